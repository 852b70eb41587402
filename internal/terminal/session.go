package terminal

import (
	"errors"
	"sync"
	"time"

	"github.com/remodash/backend/internal/infrastructure/monitoring"
	"github.com/remodash/backend/internal/shared/id"
	"go.uber.org/zap"
)

// Status is a session's lifecycle state. Transitions run only
// STARTING -> RUNNING -> EXITED, or STARTING -> EXITED on spawn failure.
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusExited   Status = "EXITED"
)

// Resize bounds; out-of-range requests are clamped.
const (
	MaxCols = 500
	MaxRows = 200
)

const (
	readChunk = 32 * 1024
	// exitWait bounds how long the read loop waits for the reaper after the
	// output stream ended before forcing termination.
	exitWait = time.Second
	// outputDrain bounds how long a session stays RUNNING after its process
	// was reaped while something else still holds the output stream open.
	outputDrain = drainTimeout + exitWait
	// inputBacklog caps input queued for a process that is not reading it.
	inputBacklog = 4 << 20
)

// Exit reasons reported on removal.
const (
	ReasonExited     = "exited"
	ReasonTerminated = "terminated"
	ReasonShutdown   = "shutdown"
)

// Summary is the public view of a session.
type Summary struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	Cwd            string    `json:"cwd"`
	Command        string    `json:"command,omitempty"`
	Shell          string    `json:"shell,omitempty"`
	Mode           Mode      `json:"mode"`
	Cols           uint16    `json:"cols"`
	Rows           uint16    `json:"rows"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Viewers        int       `json:"viewers"`
	ExitCode       *int      `json:"exit_code,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Session owns one shell process, its output history and its viewers.
type Session struct {
	id        id.TerminalID
	cwd       string
	command   string
	createdAt time.Time
	mode      Mode
	grace     time.Duration
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	hub       *Hub

	proc Process

	inMu      sync.Mutex
	inPending [][]byte
	inBytes   int
	inClosed  bool
	inReady   chan struct{}

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	cols, rows   uint16
	exitCode     int
	spawnErr     error
	reason       string

	onExit     func(*Session)
	termOnce   sync.Once
	finishOnce sync.Once
	termErr    error
	done       chan struct{}
}

type sessionConfig struct {
	cwd          string
	command      string
	cols, rows   uint16
	grace        time.Duration
	historyBytes int
	viewerQueue  int
	onExit       func(*Session)
}

func newSession(cfg sessionConfig, mode Mode, logger *zap.Logger, metrics *monitoring.Metrics) *Session {
	sid := id.NewTerminalID()
	now := time.Now()
	logger = logger.With(zap.String("session_id", string(sid)))
	return &Session{
		id:           sid,
		cwd:          cfg.cwd,
		command:      cfg.command,
		createdAt:    now,
		lastActivity: now,
		mode:         mode,
		grace:        cfg.grace,
		logger:       logger,
		metrics:      metrics,
		hub:          NewHub(string(sid), cfg.historyBytes, cfg.viewerQueue, logger.Named("hub"), metrics),
		status:       StatusStarting,
		cols:         cfg.cols,
		rows:         cfg.rows,
		exitCode:     -1,
		onExit:       cfg.onExit,
		inReady:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// start spawns the process and launches the read loop. On failure the
// session is already EXITED when start returns.
func (s *Session) start(spawner Spawner, shell string) error {
	proc, err := spawner.Start(StartOptions{
		Shell: shell,
		Dir:   s.cwd,
		Cols:  s.cols,
		Rows:  s.rows,
	})
	if err != nil {
		var se *SpawnError
		if !errors.As(err, &se) {
			err = &SpawnError{Shell: shell, Err: err}
		}
		s.mu.Lock()
		s.spawnErr = err
		s.mu.Unlock()
		s.finish(-1)
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.status = StatusRunning
	s.mu.Unlock()

	s.logger.Info("Session started",
		zap.String("shell", proc.Shell()),
		zap.Int("pid", proc.Pid()),
		zap.String("mode", string(s.mode)),
		zap.String("cwd", s.cwd))

	go s.readLoop()
	go s.writeLoop()
	go s.watchProcess()

	if s.command != "" {
		if err := s.Write([]byte(s.command + spawner.LineEnding())); err != nil {
			s.logger.Warn("Failed to send initial command", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.touch()
			s.metrics.AddOutputBytes(n)
			s.hub.Publish(chunk)
		}
		if err != nil {
			break
		}
	}

	// The stream can end before the reaper observes the exit.
	select {
	case <-s.proc.Done():
	case <-time.After(exitWait):
		if err := s.proc.Terminate(s.grace); err != nil {
			s.logger.Error("Failed to stop process after output closed", zap.Error(err))
		}
	}
	s.finish(s.proc.ExitCode())
	_ = s.proc.Terminate(0)
}

// watchProcess finishes the session once the process has been reaped and the
// output stream had outputDrain to end on its own. A detached descendant that
// inherited the terminal can otherwise keep the read loop parked forever.
func (s *Session) watchProcess() {
	select {
	case <-s.proc.Done():
	case <-s.done:
		return
	}
	timer := time.NewTimer(outputDrain)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Warn("Output stream still open after process exit")
		s.finish(s.proc.ExitCode())
	}
}

// writeLoop delivers queued input in arrival order. It is the only caller
// of proc.Write, so a process that stops reading stalls only this goroutine.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.inReady:
		case <-s.done:
			return
		}

		s.inMu.Lock()
		batch := s.inPending
		s.inPending = nil
		s.inBytes = 0
		s.inMu.Unlock()

		for _, p := range batch {
			if _, err := s.proc.Write(p); err != nil {
				if s.Status() == StatusRunning {
					s.logger.Warn("Input write failed", zap.Int("bytes", len(p)), zap.Error(err))
				}
				break
			}
		}
	}
}

// finish moves the session to EXITED exactly once, notifies viewers and the
// owner, and closes Done.
func (s *Session) finish(exitCode int) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.status = StatusExited
		s.exitCode = exitCode
		if s.reason == "" {
			s.reason = ReasonExited
		}
		reason := s.reason
		s.mu.Unlock()

		s.inMu.Lock()
		s.inClosed = true
		s.inPending = nil
		s.inBytes = 0
		s.inMu.Unlock()

		s.hub.Close(exitCode)
		if s.proc != nil {
			s.logger.Info("Session exited", zap.Int("exit_code", exitCode), zap.String("reason", reason))
		}
		if s.onExit != nil {
			s.onExit(s)
		}
		close(s.done)
	})
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// ID returns the session id.
func (s *Session) ID() id.TerminalID { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExitCode returns the recorded exit code, or -1 while running.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Err returns the spawn error of a session that never started.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnErr
}

func (s *Session) exitReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the session is EXITED.
func (s *Session) Done() <-chan struct{} { return s.done }

// Write queues input for the process and returns without waiting for it to
// be consumed. Bytes reach the process verbatim, in the order Write calls
// were made. ErrInputBacklog means the process has stopped reading and the
// queue is full; nothing from that call was queued.
func (s *Session) Write(p []byte) error {
	if s.Status() != StatusRunning {
		return ErrNotRunning
	}
	if len(p) == 0 {
		return nil
	}

	s.inMu.Lock()
	if s.inClosed {
		s.inMu.Unlock()
		return ErrNotRunning
	}
	if s.inBytes > 0 && s.inBytes+len(p) > inputBacklog {
		s.inMu.Unlock()
		return ErrInputBacklog
	}
	s.inPending = append(s.inPending, append([]byte(nil), p...))
	s.inBytes += len(p)
	s.inMu.Unlock()

	select {
	case s.inReady <- struct{}{}:
	default:
	}
	s.touch()
	return nil
}

// Resize forwards new dimensions, clamped to 1..MaxCols by 1..MaxRows.
// Adapters without resize support accept it silently.
func (s *Session) Resize(cols, rows int) error {
	if s.Status() != StatusRunning {
		return ErrNotRunning
	}
	c, r := clampSize(cols, rows)
	if err := s.proc.Resize(c, r); err != nil && !errors.Is(err, ErrResizeUnsupported) {
		return err
	}
	s.mu.Lock()
	s.cols, s.rows = c, r
	s.mu.Unlock()
	return nil
}

func clampSize(cols, rows int) (uint16, uint16) {
	return uint16(max(1, min(cols, MaxCols))), uint16(max(1, min(rows, MaxRows)))
}

// Attach replays history to a new viewer and subscribes it to live output.
func (s *Session) Attach(viewerID string) *Subscription {
	return s.hub.Attach(viewerID)
}

// Detach removes a viewer. The process keeps running with zero viewers.
func (s *Session) Detach(sub *Subscription) {
	s.hub.Detach(sub)
}

// Snapshot copies the retained history.
func (s *Session) Snapshot() []byte {
	return s.hub.Snapshot()
}

// Terminate signals the process, escalates after the grace period and waits
// until the session is EXITED. The session always ends up EXITED; the error
// reports a process that could not be confirmed dead, and repeated calls
// return that same error.
func (s *Session) Terminate() error {
	return s.terminate(ReasonTerminated)
}

func (s *Session) terminate(reason string) error {
	s.termOnce.Do(func() {
		s.mu.Lock()
		if s.status == StatusExited {
			s.mu.Unlock()
			return
		}
		s.reason = reason
		s.mu.Unlock()

		if s.proc == nil {
			return
		}
		if err := s.proc.Terminate(s.grace); err != nil {
			s.logger.Error("Failed to kill process", zap.Error(err))
			s.mu.Lock()
			s.termErr = err
			s.mu.Unlock()
			s.finish(-1)
		}
	})
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// Summary returns a consistent snapshot of the session's public state.
func (s *Session) Summary() Summary {
	viewers := s.hub.Viewers()

	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		ID:             string(s.id),
		Status:         s.status,
		Cwd:            s.cwd,
		Command:        s.command,
		Mode:           s.mode,
		Cols:           s.cols,
		Rows:           s.rows,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
		Viewers:        viewers,
	}
	if s.proc != nil {
		sum.Shell = s.proc.Shell()
	}
	if s.status == StatusExited {
		code := s.exitCode
		sum.ExitCode = &code
	}
	if s.spawnErr != nil {
		sum.Error = s.spawnErr.Error()
	}
	return sum
}
