/*
Package ws streams tab events to UI clients over WebSocket.

Each connection subscribes to the tab runtime and receives one JSON frame
per event:

	{"type":"event","id":"evt_01J...","event":{"kind":"load_finished","tab_id":3,...}}

The first frame is a welcome carrying the connection's client id. Clients may
send {"type":"ping"} (answered with a pong frame) or
{"type":"subscribe","tabs":[3,4]} to narrow the stream; an empty list
restores every tab.

A slow client never blocks the runtime: its subscription buffer drops events
and the drop is counted in the events_dropped metric.
*/
package ws
