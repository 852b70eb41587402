package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/remodash/backend/internal/api/middleware"
	"github.com/remodash/backend/internal/infrastructure/monitoring"
	"github.com/remodash/backend/internal/shared/id"
	"github.com/remodash/backend/internal/terminal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	// replies queued by the reader for the writer
	controlQueue = 16
)

// Handler serves the per-session stream and the dashboard event channel.
type Handler struct {
	registry *terminal.Registry
	input    middleware.RateLimitConfig
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler. Upgrades are accepted from the
// origins cors allows. A non-zero input rate paces each connection's input
// messages; excess input waits its turn and is never discarded.
func NewHandler(registry *terminal.Registry, cors middleware.CORSConfig, input middleware.RateLimitConfig, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		input:    input,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return cors.OriginAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

// WithMetrics records message counts on m.
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// Stream attaches the connection as a viewer of the session named by :id.
func (h *Handler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sid := id.TerminalID(c.Param("id"))
	sess, err := h.registry.Get(sid)
	if err != nil {
		h.closeWith(conn, CloseUnknownSession, "session not found")
		return
	}

	viewer := id.NewViewerID()
	logger := h.logger.With(
		zap.String("session_id", string(sid)),
		zap.String("viewer_id", string(viewer)),
	)
	sub := sess.Attach(string(viewer))
	defer sess.Detach(sub)

	replies := make(chan ServerMessage, controlQueue)
	ctx, cancel := context.WithCancel(context.Background())
	readerDone := make(chan struct{})
	defer cancel()

	go h.readStream(ctx, conn, sess, replies, readerDone, logger)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-sub.Frames():
			if !ok {
				if sub.Dropped() {
					h.closeWith(conn, websocket.CloseTryAgainLater, "viewer too slow")
				}
				return
			}
			if err := h.send(conn, frameMessage(f)); err != nil {
				logger.Debug("Viewer write failed", zap.Error(err))
				return
			}
			if f.Kind == terminal.FrameExited {
				h.closeWith(conn, websocket.CloseNormalClosure, "session exited")
				return
			}
		case msg := <-replies:
			if err := h.send(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.ping(conn); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}

func frameMessage(f terminal.Frame) ServerMessage {
	msg := ServerMessage{Type: string(f.Kind), Data: f.Data}
	if f.Kind == terminal.FrameExited {
		code := f.ExitCode
		msg.ExitCode = &code
	}
	return msg
}

// readStream handles viewer messages until the connection fails.
func (h *Handler) readStream(ctx context.Context, conn *websocket.Conn, sess *terminal.Session, replies chan<- ServerMessage, done chan<- struct{}, logger *zap.Logger) {
	defer close(done)
	h.prepareRead(conn)
	limiter := h.input.NewLimiter()

	reply := func(msg ServerMessage) {
		select {
		case replies <- msg:
		case <-ctx.Done():
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Viewer read error", zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case TypeInput:
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := sess.Write([]byte(msg.Data)); err != nil {
				reply(sessionError(err))
			}
		case TypeResize:
			if err := sess.Resize(msg.Cols, msg.Rows); err != nil {
				reply(sessionError(err))
			}
		case TypeReparent:
			// Pop-out and snap-back move the view, never the session.
			logger.Debug("Viewer reparented", zap.String("target", msg.Target))
		case TypePing:
			reply(ServerMessage{Type: TypePong})
		default:
			reply(errorMessage("bad_message", "unknown message type: "+msg.Type))
		}
	}
}

func sessionError(err error) ServerMessage {
	switch {
	case errors.Is(err, terminal.ErrNotRunning):
		return errorMessage("not_running", err.Error())
	case errors.Is(err, terminal.ErrInputBacklog):
		return errorMessage("input_backlog", err.Error())
	}
	return errorMessage("internal", err.Error())
}

// Events streams dashboard notifications, starting with a session list.
func (h *Handler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	w := h.registry.Watch()
	defer h.registry.Unwatch(w)
	logger := h.logger.With(zap.String("subscriber_id", string(w.ID())))
	logger.Debug("Dashboard connected")

	replies := make(chan ServerMessage, controlQueue)
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	defer close(stop)

	go h.readEvents(conn, replies, stop, readerDone, logger)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.C():
			if !ok {
				h.closeWith(conn, websocket.CloseGoingAway, "event stream closed")
				return
			}
			if err := h.send(conn, ev); err != nil {
				return
			}
			h.metrics.RecordWSMessage("out", string(ev.Type))
		case msg := <-replies:
			if err := h.send(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.ping(conn); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}

func (h *Handler) readEvents(conn *websocket.Conn, replies chan<- ServerMessage, stop <-chan struct{}, done chan<- struct{}, logger *zap.Logger) {
	defer close(done)
	h.prepareRead(conn)
	// Refresh requests are cheap but fan out to every dashboard.
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 5)

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Dashboard read error", zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		var out *ServerMessage
		switch msg.Type {
		case TypeList:
			if limiter.Allow() {
				h.registry.PublishList()
			}
		case TypePing:
			out = &ServerMessage{Type: TypePong}
		default:
			m := errorMessage("bad_message", "unknown message type: "+msg.Type)
			out = &m
		}
		if out != nil {
			select {
			case replies <- *out:
			case <-stop:
				return
			}
		}
	}
}

func (h *Handler) prepareRead(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// send is only called from the connection's writer loop.
func (h *Handler) send(conn *websocket.Conn, data interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if msg, ok := data.(ServerMessage); ok {
		h.metrics.RecordWSMessage("out", msg.Type)
	}
	return conn.WriteJSON(data)
}

func (h *Handler) ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
