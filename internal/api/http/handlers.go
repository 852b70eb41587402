package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/remodash/backend/internal/infrastructure/monitoring"
	"github.com/remodash/backend/internal/shared/id"
	"github.com/remodash/backend/internal/terminal"
	"go.uber.org/zap"
)

const (
	serviceName    = "remodash terminal service"
	serviceVersion = "0.3.0"
)

// Handlers contains the session control endpoints.
type Handlers struct {
	registry *terminal.Registry
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(registry *terminal.Registry, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateRequest is the body of POST /api/terminals. Every field is optional.
type CreateRequest struct {
	Cwd     string `json:"cwd"`
	Command string `json:"command"`
	Cols    int    `json:"cols" binding:"omitempty,min=0"`
	Rows    int    `json:"rows" binding:"omitempty,min=0"`
}

// InputRequest is the body of POST /api/terminals/:id/input.
type InputRequest struct {
	Data string `json:"data" binding:"required"`
}

// ResizeRequest is the body of POST /api/terminals/:id/resize.
type ResizeRequest struct {
	Cols int `json:"cols" binding:"required,min=1"`
	Rows int `json:"rows" binding:"required,min=1"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	snap := h.metrics.GetSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"mode":            h.registry.Mode(),
		"sessions":        h.registry.Count(),
		"event_listeners": h.registry.Listeners(),
		"uptime_seconds":  snap.UptimeSeconds,
		"requests":        snap.TotalRequests,
		"errors":          snap.TotalErrors,
		"viewers":         snap.ActiveViewers,
	})
}

// CreateTerminal starts a new session
func (h *Handlers) CreateTerminal(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	sess, err := h.registry.Create(c.Request.Context(), terminal.CreateOptions{
		Cwd:     req.Cwd,
		Command: req.Command,
		Cols:    req.Cols,
		Rows:    req.Rows,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Summary())
}

// ListTerminals returns every live session ordered by creation
func (h *Handlers) ListTerminals(c *gin.Context) {
	sessions := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// PreviousTerminals returns sessions that were live when the last run stopped
func (h *Handlers) PreviousTerminals(c *gin.Context) {
	records := h.registry.Previous()
	if records == nil {
		records = []terminal.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": records,
		"count":    len(records),
	})
}

// GetTerminal returns one session summary
func (h *Handlers) GetTerminal(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Summary())
}

// DeleteTerminal terminates a session and waits for it to exit
func (h *Handlers) DeleteTerminal(c *gin.Context) {
	sid := id.TerminalID(c.Param("id"))
	if err := h.registry.Terminate(sid); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     sid,
		"status": "terminated",
	})
}

// SendInput forwards raw input to a session
func (h *Handlers) SendInput(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := sess.Write([]byte(req.Data)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// ResizeTerminal changes a session's window size
func (h *Handlers) ResizeTerminal(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Summary())
}

// History returns the buffered output, gzip-compressed when the client
// accepts it. ?download=1 marks it as an attachment.
func (h *Handlers) History(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	data := sess.Snapshot()

	if c.Query("download") != "" {
		c.Header("Content-Disposition", `attachment; filename="`+string(sess.ID())+`.log"`)
	}
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Vary", "Accept-Encoding")

	if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		c.Data(http.StatusOK, "application/octet-stream", data)
		return
	}

	c.Header("Content-Encoding", "gzip")
	c.Status(http.StatusOK)
	zw := gzip.NewWriter(c.Writer)
	if _, err := zw.Write(data); err != nil {
		h.logger.Warn("History write failed", zap.String("session_id", string(sess.ID())), zap.Error(err))
	}
	if err := zw.Close(); err != nil {
		h.logger.Warn("History flush failed", zap.String("session_id", string(sess.ID())), zap.Error(err))
	}
}

func (h *Handlers) lookup(c *gin.Context) (*terminal.Session, bool) {
	sess, err := h.registry.Get(id.TerminalID(c.Param("id")))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return sess, true
}

// writeError maps core errors onto status codes.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var spawnErr *terminal.SpawnError
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, terminal.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "not_running"})
	case errors.Is(err, terminal.ErrInputBacklog):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "code": "input_backlog"})
	case errors.Is(err, terminal.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "shutting_down"})
	case errors.As(err, &spawnErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "spawn_error"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "internal"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_request"})
}

// Register mounts the session control routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	api := r.Group("/api/terminals")
	api.POST("", h.CreateTerminal)
	api.GET("", h.ListTerminals)
	api.GET("/previous", h.PreviousTerminals)
	api.GET("/:id", h.GetTerminal)
	api.DELETE("/:id", h.DeleteTerminal)
	api.POST("/:id/input", h.SendInput)
	api.POST("/:id/resize", h.ResizeTerminal)
	api.GET("/:id/history", h.History)
}
