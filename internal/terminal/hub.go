package terminal

import (
	"sync"
	"sync/atomic"

	"github.com/remodash/backend/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

// DefaultViewerQueue is the per-viewer outbound queue length in frames.
const DefaultViewerQueue = 256

// FrameKind identifies what a Frame carries.
type FrameKind string

const (
	// FrameHistory is the bulk replay sent once, first, on attach.
	FrameHistory FrameKind = "history"
	// FrameOutput is one chunk of live process output.
	FrameOutput FrameKind = "output"
	// FrameExited is the final frame; ExitCode is set.
	FrameExited FrameKind = "exited"
)

// Frame is one unit delivered to a viewer.
type Frame struct {
	Kind     FrameKind
	Data     []byte
	ExitCode int
}

// Subscription is one attached viewer's outbound queue.
//
// Frames is closed when the viewer is detached, dropped for falling behind,
// or after the exited frame was delivered.
type Subscription struct {
	id        string
	frames    chan Frame
	dropped   atomic.Bool
	closeOnce sync.Once
}

// ID returns the viewer id the subscription was attached with.
func (s *Subscription) ID() string { return s.id }

// Frames returns the viewer's queue.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// Dropped reports whether the hub closed the queue because it saturated.
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.frames) })
}

// Hub is the per-session viewer set. Publish is called only by the session's
// read loop and never blocks on a viewer.
type Hub struct {
	sessionID string
	queueSize int
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	// mu orders history appends against attach snapshots so replay plus live
	// output is gap-free and duplicate-free.
	mu       sync.Mutex
	history  *History
	subs     map[string]*Subscription
	closed   bool
	exitCode int
}

// NewHub creates a hub retaining historyBytes of output.
func NewHub(sessionID string, historyBytes, queueSize int, logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultViewerQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessionID: sessionID,
		queueSize: queueSize,
		logger:    logger,
		metrics:   metrics,
		history:   NewHistory(historyBytes),
		subs:      make(map[string]*Subscription),
	}
}

// Attach replays the current history to viewerID and subscribes it to live
// output. Attaching to a closed hub yields the history and the exited frame.
// Re-attaching an id replaces its previous subscription.
func (h *Hub) Attach(viewerID string) *Subscription {
	// Room for history and exited on top of the live queue.
	sub := &Subscription{id: viewerID, frames: make(chan Frame, h.queueSize+2)}

	h.mu.Lock()
	defer h.mu.Unlock()

	sub.frames <- Frame{Kind: FrameHistory, Data: h.history.Snapshot()}
	if h.closed {
		sub.frames <- Frame{Kind: FrameExited, ExitCode: h.exitCode}
		sub.close()
		return sub
	}

	if prev, ok := h.subs[viewerID]; ok {
		prev.close()
		h.metrics.ViewerDetached(false)
	}
	h.subs[viewerID] = sub
	h.metrics.ViewerAttached()
	h.logger.Debug("Viewer attached",
		zap.String("session_id", h.sessionID),
		zap.String("viewer_id", viewerID),
		zap.Int("viewers", len(h.subs)))
	return sub
}

// Detach unsubscribes sub. Detaching never affects the session.
func (h *Hub) Detach(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.subs[sub.id]; !ok || cur != sub {
		return
	}
	delete(h.subs, sub.id)
	sub.close()
	h.metrics.ViewerDetached(false)
	h.logger.Debug("Viewer detached",
		zap.String("session_id", h.sessionID),
		zap.String("viewer_id", sub.id),
		zap.Int("viewers", len(h.subs)))
}

// Publish appends chunk to the history and delivers it to every viewer. A
// viewer whose queue is full is dropped.
func (h *Hub) Publish(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	_, _ = h.history.Write(chunk)

	frame := Frame{Kind: FrameOutput, Data: chunk}
	for vid, sub := range h.subs {
		// Senders hold mu, so len only shrinks concurrently. The last slot
		// stays free for the exited frame.
		if len(sub.frames) < cap(sub.frames)-1 {
			sub.frames <- frame
		} else {
			delete(h.subs, vid)
			sub.dropped.Store(true)
			sub.close()
			h.metrics.ViewerDetached(true)
			h.logger.Warn("Dropping slow viewer",
				zap.String("session_id", h.sessionID),
				zap.String("viewer_id", vid),
				zap.Int("queue", h.queueSize))
		}
	}
}

// Close delivers the exited frame to every viewer and closes their queues.
// It is called once the process is gone; later calls are no-ops.
func (h *Hub) Close(exitCode int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.exitCode = exitCode

	for vid, sub := range h.subs {
		sub.frames <- Frame{Kind: FrameExited, ExitCode: exitCode}
		sub.close()
		delete(h.subs, vid)
		h.metrics.ViewerDetached(false)
	}
}

// Viewers reports the number of attached viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Snapshot copies the current history.
func (h *Hub) Snapshot() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.Snapshot()
}

// HistoryTotal reports every byte published, including evicted ones.
func (h *Hub) HistoryTotal() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.Total()
}
