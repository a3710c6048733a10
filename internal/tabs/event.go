package tabs

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// EventKind identifies a Worker or Runtime event
type EventKind int

const (
	EventLoadStarted EventKind = iota
	EventLoadProgress
	EventLoadFinished
	EventTitleChanged
	EventURLChanged
	EventCrashed
	EventPong
	EventUnresponsive
	EventMemoryReport
	EventConsoleMessage
	EventPopupRequested

	// published by the Runtime itself
	EventTabCreated
	EventTabClosed
	EventHibernated
	EventRestored
	EventFocused
)

var eventNames = map[EventKind]string{
	EventLoadStarted:    "load_started",
	EventLoadProgress:   "load_progress",
	EventLoadFinished:   "load_finished",
	EventTitleChanged:   "title_changed",
	EventURLChanged:     "url_changed",
	EventCrashed:        "crashed",
	EventPong:           "pong",
	EventUnresponsive:   "unresponsive",
	EventMemoryReport:   "memory_report",
	EventConsoleMessage: "console_message",
	EventPopupRequested: "popup_requested",
	EventTabCreated:     "tab_created",
	EventTabClosed:      "tab_closed",
	EventHibernated:     "hibernated",
	EventRestored:       "restored",
	EventFocused:        "focused",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the kind by name in JSON frames
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name
func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// ConsoleLevel is the severity of a console message
type ConsoleLevel int

const (
	ConsoleLog ConsoleLevel = iota
	ConsoleInfo
	ConsoleWarn
	ConsoleError
)

func (l ConsoleLevel) String() string {
	switch l {
	case ConsoleLog:
		return "log"
	case ConsoleInfo:
		return "info"
	case ConsoleWarn:
		return "warn"
	case ConsoleError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name
func (l ConsoleLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name; unknown names read as log
func (l *ConsoleLevel) UnmarshalText(text []byte) error {
	*l = ParseConsoleLevel(string(text))
	return nil
}

// ParseConsoleLevel maps a console method name to a level
func ParseConsoleLevel(s string) ConsoleLevel {
	switch s {
	case "info":
		return ConsoleInfo
	case "warn":
		return ConsoleWarn
	case "error":
		return ConsoleError
	default:
		return ConsoleLog
	}
}

// CrashReport describes a recovered worker fault
type CrashReport struct {
	ID      id.CrashID `json:"id"`
	TabID   id.TabID   `json:"tab_id"`
	Message string     `json:"message"`
	Panic   string     `json:"panic"`
	Stack   string     `json:"stack,omitempty"`
	Time    time.Time  `json:"time"`
}

// Event flows from workers (and the Runtime) to subscribers.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind    `json:"kind"`
	TabID    id.TabID     `json:"tab_id"`
	Time     time.Time    `json:"time"`
	URL      string       `json:"url,omitempty"`
	Title    string       `json:"title,omitempty"`
	Favicon  string       `json:"favicon,omitempty"`
	Progress float64      `json:"progress,omitempty"`
	Bytes    int64        `json:"bytes,omitempty"`
	Level    ConsoleLevel `json:"level,omitempty"`
	Message  string       `json:"message,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Crash    *CrashReport `json:"crash,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s(tab %s)", e.Kind, e.TabID)
}
