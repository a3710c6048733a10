package ws

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

type fakeSource struct {
	mu   sync.Mutex
	subs []chan tabs.Event
}

func (f *fakeSource) Subscribe(buffer int) (<-chan tabs.Event, func()) {
	ch := make(chan tabs.Event, buffer)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeSource) publish(ev tabs.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- ev
	}
}

func (f *fakeSource) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func setup(t *testing.T) (*fakeSource, *monitoring.Metrics, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	src := &fakeSource{}
	metrics := monitoring.NewMetrics()
	h := NewHandler(src, metrics, nil, Config{Buffer: 16})

	r := gin.New()
	r.GET("/events", h.HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return src, metrics, "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, sonic.Unmarshal(data, &f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := sonic.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestWelcomeCarriesClientID(t *testing.T) {
	_, metrics, url := setup(t)
	conn := dial(t, url)

	f := readFrame(t, conn)
	assert.Equal(t, FrameWelcome, f.Type)
	assert.NotEmpty(t, f.ClientID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WSConnections))
}

func TestStreamsEvents(t *testing.T) {
	src, _, url := setup(t)
	conn := dial(t, url)
	readFrame(t, conn)

	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, 10*time.Millisecond)
	src.publish(tabs.Event{Kind: tabs.EventTitleChanged, TabID: 3, Title: "Hello"})

	f := readFrame(t, conn)
	assert.Equal(t, FrameEvent, f.Type)
	assert.True(t, strings.HasPrefix(string(f.ID), id.EventPrefix))
	require.NotNil(t, f.Event)
	assert.Equal(t, tabs.EventTitleChanged, f.Event.Kind)
	assert.Equal(t, id.TabID(3), f.Event.TabID)
	assert.Equal(t, "Hello", f.Event.Title)
}

func TestPingPong(t *testing.T) {
	_, _, url := setup(t)
	conn := dial(t, url)
	readFrame(t, conn)

	send(t, conn, ClientMessage{Type: "ping"})
	assert.Equal(t, FramePong, readFrame(t, conn).Type)

	send(t, conn, ClientMessage{Type: "bogus"})
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.NotEmpty(t, f.Message)
}

func TestSubscribeFiltersTabs(t *testing.T) {
	src, _, url := setup(t)
	conn := dial(t, url)
	readFrame(t, conn)

	send(t, conn, ClientMessage{Type: "subscribe", Tabs: []id.TabID{2}})
	// the pong proves the subscribe was applied first
	send(t, conn, ClientMessage{Type: "ping"})
	require.Equal(t, FramePong, readFrame(t, conn).Type)

	src.publish(tabs.Event{Kind: tabs.EventTitleChanged, TabID: 1, Title: "skip"})
	src.publish(tabs.Event{Kind: tabs.EventTitleChanged, TabID: 2, Title: "keep"})

	f := readFrame(t, conn)
	require.NotNil(t, f.Event)
	assert.Equal(t, id.TabID(2), f.Event.TabID)
	assert.Equal(t, "keep", f.Event.Title)
}

func TestRuntimeCloseEndsStream(t *testing.T) {
	src, metrics, url := setup(t)
	conn := dial(t, url)
	readFrame(t, conn)

	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, 10*time.Millisecond)
	src.closeAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WSConnections) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(&fakeSource{}, nil, nil, Config{AllowedOrigins: []string{"http://ui.local"}})

	req := httptest.NewRequest("GET", "/events", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://ui.local")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.local")
	assert.False(t, h.checkOrigin(req))
}
