package terminal

import (
	"sync"
	"time"

	"github.com/remodash/backend/internal/infrastructure/monitoring"
	"github.com/remodash/backend/internal/shared/id"
	"go.uber.org/zap"
)

// DefaultEventQueue is the per-listener queue length for dashboard events.
const DefaultEventQueue = 64

// EventType names a dashboard-level notification.
type EventType string

const (
	EventSessionCreated     EventType = "sessionCreated"
	EventSessionRemoved     EventType = "sessionRemoved"
	EventSessionList        EventType = "sessionList"
	EventSessionSpawnFailed EventType = "sessionSpawnFailed"
)

// Event is one notification on the dashboard channel.
type Event struct {
	Type      EventType `json:"type"`
	Session   *Summary  `json:"session,omitempty"`
	Sessions  []Summary `json:"sessions,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Watcher receives dashboard events. C is closed when the watcher is
// unsubscribed, dropped for falling behind, or the channel shuts down.
type Watcher struct {
	id   id.SubscriberID
	ch   chan Event
	once sync.Once
}

// ID returns the subscriber id.
func (w *Watcher) ID() id.SubscriberID { return w.id }

// C returns the event queue.
func (w *Watcher) C() <-chan Event { return w.ch }

func (w *Watcher) close() {
	w.once.Do(func() { close(w.ch) })
}

// Events broadcasts session lifecycle notifications to every dashboard
// listener, independent of per-session attachment.
type Events struct {
	queueSize int
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	mu       sync.Mutex
	watchers map[id.SubscriberID]*Watcher
	closed   bool
}

// NewEvents creates an event channel with the given per-listener queue.
func NewEvents(queueSize int, logger *zap.Logger, metrics *monitoring.Metrics) *Events {
	if queueSize <= 0 {
		queueSize = DefaultEventQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{
		queueSize: queueSize,
		logger:    logger,
		metrics:   metrics,
		watchers:  make(map[id.SubscriberID]*Watcher),
	}
}

// Subscribe registers a new listener.
func (e *Events) Subscribe() *Watcher {
	return e.subscribeWith(nil)
}

// subscribeWith registers a listener whose first event is first. The caller
// builds first under whatever lock makes it consistent with later events.
func (e *Events) subscribeWith(first *Event) *Watcher {
	w := &Watcher{id: id.NewSubscriberID(), ch: make(chan Event, e.queueSize)}

	e.mu.Lock()
	defer e.mu.Unlock()

	if first != nil {
		w.ch <- *first
	}
	if e.closed {
		w.close()
		return w
	}
	e.watchers[w.id] = w
	e.metrics.SetEventSubscribers(len(e.watchers))
	e.logger.Debug("Event listener subscribed", zap.String("subscriber_id", string(w.id)))
	return w
}

// Unsubscribe removes w; safe to call more than once.
func (e *Events) Unsubscribe(w *Watcher) {
	if w == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.watchers[w.id]; !ok {
		return
	}
	delete(e.watchers, w.id)
	w.close()
	e.metrics.SetEventSubscribers(len(e.watchers))
}

// Publish delivers ev to every listener without blocking. A listener whose
// queue is full is dropped; it reconnects and receives a fresh list.
func (e *Events) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	for wid, w := range e.watchers {
		select {
		case w.ch <- ev:
		default:
			delete(e.watchers, wid)
			w.close()
			e.logger.Warn("Dropping slow event listener",
				zap.String("subscriber_id", string(wid)),
				zap.String("event", string(ev.Type)))
		}
	}
	e.metrics.SetEventSubscribers(len(e.watchers))
}

// Count reports the number of listeners.
func (e *Events) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watchers)
}

// Close disconnects every listener. Later publishes are discarded.
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for wid, w := range e.watchers {
		w.close()
		delete(e.watchers, wid)
	}
	e.metrics.SetEventSubscribers(0)
}
