package terminal

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrNotRunning is returned when input or resize targets a session that has exited.
	ErrNotRunning = errors.New("session not running")
	// ErrShuttingDown is returned by Create once Shutdown has begun.
	ErrShuttingDown = errors.New("registry is shutting down")
	// ErrInputBacklog is returned when queued input the process has not read exceeds the cap.
	ErrInputBacklog = errors.New("session input backlog full")
	// ErrResizeUnsupported is returned by adapters without terminal semantics.
	ErrResizeUnsupported = errors.New("resize not supported by process adapter")
)

// SpawnError reports that no shell could be started.
type SpawnError struct {
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	if e.Shell == "" {
		return fmt.Sprintf("spawn shell: %v", e.Err)
	}
	return fmt.Sprintf("spawn shell %s: %v", e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
