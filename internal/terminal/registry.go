package terminal

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/remodash/backend/internal/infrastructure/monitoring"
	"github.com/remodash/backend/internal/shared/id"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures every session the registry creates.
type Options struct {
	Shell        string
	HistoryBytes int
	GracePeriod  time.Duration
	ViewerQueue  int
	EventQueue   int
	Cols         uint16
	Rows         uint16
	// DefaultDir is used when a create request names no directory. Empty
	// means the user's home directory.
	DefaultDir string
}

// DefaultOptions returns the stock session configuration.
func DefaultOptions() Options {
	return Options{
		HistoryBytes: DefaultHistoryBytes,
		GracePeriod:  3 * time.Second,
		ViewerQueue:  DefaultViewerQueue,
		EventQueue:   DefaultEventQueue,
		Cols:         80,
		Rows:         24,
	}
}

// CreateOptions are the per-request creation parameters.
type CreateOptions struct {
	Cwd     string
	Command string
	Cols    int
	Rows    int
}

// Registry is the process-wide table of live sessions.
type Registry struct {
	spawner Spawner
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics
	events  *Events
	store   Store

	previous []Record

	mu       sync.RWMutex
	sessions map[id.TerminalID]*Session
	closed   bool
}

// NewRegistry creates an empty registry that spawns through spawner.
func NewRegistry(spawner Spawner, opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.HistoryBytes <= 0 {
		opts.HistoryBytes = def.HistoryBytes
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = def.GracePeriod
	}
	if opts.Cols == 0 {
		opts.Cols = def.Cols
	}
	if opts.Rows == 0 {
		opts.Rows = def.Rows
	}
	return &Registry{
		spawner:  spawner,
		opts:     opts,
		logger:   logger,
		events:   NewEvents(opts.EventQueue, logger.Named("events"), nil),
		sessions: make(map[id.TerminalID]*Session),
	}
}

// WithMetrics attaches a metrics recorder. Call before the first Create.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	r.events.metrics = m
	return r
}

// WithStore enables metadata persistence. Records left by a previous run are
// exposed through Previous and cleared from the store.
func (r *Registry) WithStore(s Store) *Registry {
	recs, err := s.Load()
	if err != nil {
		r.logger.Warn("Failed to load previous sessions", zap.Error(err))
	}
	for i := range recs {
		recs[i].Status = StatusExited
	}
	r.previous = recs
	if err := s.Reset(); err != nil {
		r.logger.Warn("Failed to reset session store", zap.Error(err))
	}
	r.store = s
	if len(recs) > 0 {
		r.logger.Info("Loaded sessions from previous run", zap.Int("count", len(recs)))
	}
	return r
}

// Mode reports the process adapter in use.
func (r *Registry) Mode() Mode { return r.spawner.Mode() }

// Create spawns a new session. A spawn failure is returned as *SpawnError
// and broadcast to dashboard listeners; the session is never registered.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrShuttingDown
	}

	timer := monitoring.NewTimer(r.metrics, "create")

	c, rw := int(r.opts.Cols), int(r.opts.Rows)
	if opts.Cols > 0 {
		c = opts.Cols
	}
	if opts.Rows > 0 {
		rw = opts.Rows
	}
	cols, rows := clampSize(c, rw)

	s := newSession(sessionConfig{
		cwd:          r.resolveDir(opts.Cwd),
		command:      opts.Command,
		cols:         cols,
		rows:         rows,
		grace:        r.opts.GracePeriod,
		historyBytes: r.opts.HistoryBytes,
		viewerQueue:  r.opts.ViewerQueue,
		onExit:       r.remove,
	}, r.spawner.Mode(), r.logger.Named("session"), r.metrics)

	// Spawning happens outside the lock; list and get never wait on it.
	if err := s.start(r.spawner, r.opts.Shell); err != nil {
		timer.Stop("error")
		r.metrics.IncSpawnFailures()
		r.logger.Error("Failed to spawn session", zap.String("session_id", string(s.ID())), zap.Error(err))
		sum := s.Summary()
		r.events.Publish(Event{Type: EventSessionSpawnFailed, Session: &sum, Error: err.Error()})
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.terminate(ReasonShutdown)
		timer.Stop("error")
		return nil, ErrShuttingDown
	}

	sum := s.Summary()
	if sum.Status == StatusExited {
		// The process already exited; its removal callback found nothing to remove.
		r.mu.Unlock()
		r.events.Publish(Event{Type: EventSessionCreated, Session: &sum})
		r.events.Publish(Event{Type: EventSessionRemoved, Session: &sum, Reason: ReasonExited})
		timer.Stop("success")
		return s, nil
	}

	r.sessions[s.id] = s
	r.metrics.SessionCreated()
	r.saveLocked(s, StatusRunning)
	r.events.Publish(Event{Type: EventSessionCreated, Session: &sum})
	r.events.Publish(Event{Type: EventSessionList, Sessions: r.listLocked()})
	r.mu.Unlock()

	timer.Stop("success")
	r.logger.Info("Session created",
		zap.String("session_id", string(s.ID())),
		zap.String("cwd", sum.Cwd),
		zap.String("shell", sum.Shell))
	return s, nil
}

// resolveDir picks the working directory, falling back to the home
// directory when the requested one is unusable.
func (r *Registry) resolveDir(dir string) string {
	if dir == "" {
		dir = r.opts.DefaultDir
	}
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		r.logger.Warn("Working directory unavailable, using home", zap.String("cwd", dir))
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.TempDir()
}

// remove is the session exit callback.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.id]; !ok || cur != s {
		return
	}
	delete(r.sessions, s.id)

	sum := s.Summary()
	reason := s.exitReason()
	r.metrics.SessionRemoved(reason)
	if reason == ReasonShutdown {
		// Kept so the next run can list what was open.
		r.saveLocked(s, StatusExited)
	} else if r.store != nil {
		if err := r.store.Remove(string(s.id)); err != nil {
			r.logger.Warn("Failed to remove session record", zap.String("session_id", string(s.id)), zap.Error(err))
		}
	}

	r.events.Publish(Event{Type: EventSessionRemoved, Session: &sum, Reason: reason})
	r.events.Publish(Event{Type: EventSessionList, Sessions: r.listLocked()})
	r.logger.Info("Session removed", zap.String("session_id", string(s.id)), zap.String("reason", reason))
}

func (r *Registry) saveLocked(s *Session, status Status) {
	if r.store == nil {
		return
	}
	sum := s.Summary()
	rec := Record{
		ID:        sum.ID,
		Cwd:       sum.Cwd,
		Command:   sum.Command,
		Shell:     sum.Shell,
		Mode:      sum.Mode,
		CreatedAt: sum.CreatedAt,
		Status:    status,
	}
	if err := r.store.Save(rec); err != nil {
		r.logger.Warn("Failed to persist session record", zap.String("session_id", sum.ID), zap.Error(err))
	}
}

// Get returns the live session with the given id.
func (r *Registry) Get(sid id.TerminalID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns summaries of every live session in creation order.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

// Session ids are ULIDs, so id order is creation order.
func (r *Registry) listLocked() []Summary {
	out := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Terminate stops the session and waits for it to exit.
func (r *Registry) Terminate(sid id.TerminalID) error {
	s, err := r.Get(sid)
	if err != nil {
		return err
	}
	timer := monitoring.NewTimer(r.metrics, "terminate")
	err = s.Terminate()
	timer.Stop(statusOf(err))
	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Watch subscribes to dashboard events. The first event is always a
// sessionList snapshot consistent with every event that follows.
func (r *Registry) Watch() *Watcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events.subscribeWith(&Event{
		Type:      EventSessionList,
		Sessions:  r.listLocked(),
		Timestamp: time.Now(),
	})
}

// Unwatch ends a Watch subscription.
func (r *Registry) Unwatch(w *Watcher) {
	r.events.Unsubscribe(w)
}

// PublishList broadcasts the current session list to every listener.
func (r *Registry) PublishList() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.events.Publish(Event{Type: EventSessionList, Sessions: r.listLocked()})
}

// Listeners reports the number of dashboard listeners.
func (r *Registry) Listeners() int { return r.events.Count() }

// Previous returns the metadata of sessions open when the last run stopped.
func (r *Registry) Previous() []Record {
	out := make([]Record, len(r.previous))
	copy(out, r.previous)
	return out
}

// Shutdown rejects new sessions and terminates every live one in parallel.
// It returns ctx.Err() if the sessions did not all exit before ctx ended.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	r.logger.Info("Shutting down sessions", zap.Int("count", len(sessions)))

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			s.terminate(ReasonShutdown)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		r.logger.Error("Sessions still running at shutdown deadline", zap.Int("remaining", r.Count()))
	}
	r.events.Close()
	return err
}
