package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

// Frame types sent to clients
const (
	FrameWelcome = "welcome"
	FrameEvent   = "event"
	FramePong    = "pong"
	FrameError   = "error"
)

// EventSource is anything that fans out tab events
type EventSource interface {
	Subscribe(buffer int) (<-chan tabs.Event, func())
}

// Frame is one server-to-client message
type Frame struct {
	Type     string      `json:"type"`
	ID       id.EventID  `json:"id,omitempty"`
	ClientID id.ClientID `json:"client_id,omitempty"`
	Event    *tabs.Event `json:"event,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// ClientMessage is one client-to-server message.
// "subscribe" narrows the stream to Tabs; an empty list means every tab.
type ClientMessage struct {
	Type string     `json:"type"`
	Tabs []id.TabID `json:"tabs,omitempty"`
}

// Config tunes the event stream
type Config struct {
	Buffer         int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	AllowedOrigins []string
}

// DefaultConfig returns stream defaults
func DefaultConfig() Config {
	return Config{
		Buffer:       256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadLimit:    4096,
	}
}

// Handler streams tab events over WebSocket
type Handler struct {
	source   EventSource
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(source EventSource, metrics *monitoring.Metrics, logger *zap.Logger, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	h := &Handler{source: source, metrics: metrics, logger: logger, cfg: cfg}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleConnection upgrades the request and streams until either side leaves
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := id.NewClientID()
	logger := h.logger.With(zap.String("client_id", client.String()))
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	events, unsubscribe := h.source.Subscribe(h.cfg.Buffer)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	incoming := make(chan ClientMessage, 8)
	go h.readLoop(ctx, cancel, conn, incoming, logger)

	s := &session{conn: conn, h: h}
	if err := s.write(Frame{Type: FrameWelcome, ClientID: client}); err != nil {
		return
	}
	logger.Info("event stream opened")
	defer logger.Info("event stream closed")

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = s.close(websocket.CloseGoingAway, "runtime closed")
				return
			}
			if !s.wants(ev.TabID) {
				continue
			}
			if err := s.write(Frame{Type: FrameEvent, ID: id.NewEventID(), Event: &ev}); err != nil {
				logger.Debug("event write failed", zap.Error(err))
				return
			}
		case msg := <-incoming:
			if err := s.handle(msg); err != nil {
				logger.Debug("reply write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readLoop owns all reads; it cancels the stream when the client goes away
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- ClientMessage, logger *zap.Logger) {
	defer cancel()

	conn.SetReadLimit(h.cfg.ReadLimit)
	idle := 2 * h.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			msg = ClientMessage{Type: "invalid"}
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// session is the write side of one connection; only HandleConnection uses it
type session struct {
	conn   *websocket.Conn
	h      *Handler
	filter map[id.TabID]struct{}
}

func (s *session) wants(tabID id.TabID) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[tabID]
	return ok
}

func (s *session) handle(msg ClientMessage) error {
	switch msg.Type {
	case "ping":
		return s.write(Frame{Type: FramePong})
	case "subscribe":
		s.filter = make(map[id.TabID]struct{}, len(msg.Tabs))
		for _, tabID := range msg.Tabs {
			s.filter[tabID] = struct{}{}
		}
		return nil
	default:
		return s.write(Frame{Type: FrameError, Message: "unknown message type"})
	}
}

func (s *session) write(f Frame) error {
	data, err := sonic.Marshal(f)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.h.metrics.RecordWSMessage("out", f.Type)
	return nil
}

func (s *session) close(code int, reason string) error {
	deadline := time.Now().Add(s.h.cfg.WriteTimeout)
	return s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
