package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mode selects the process adapter.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModePTY  Mode = "pty"
	ModePipe Mode = "pipe"
)

// ParseMode validates a configured adapter mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModePTY, ModePipe:
		return m, nil
	default:
		return "", fmt.Errorf("unknown terminal mode %q (want auto, pty or pipe)", s)
	}
}

// StartOptions describes the shell to spawn.
type StartOptions struct {
	Shell string // preferred shell; empty walks the fallback chain
	Dir   string
	Env   []string
	Cols  uint16
	Rows  uint16
}

// Process is the uniform byte-stream contract over a spawned shell.
//
// Read blocks until output is available, the process exits or Terminate is
// called, and returns io.EOF once the stream has ended. Terminate signals the
// process, waits up to grace, then force-kills; it always releases the
// adapter's file descriptors so a blocked Read returns.
type Process interface {
	io.ReadWriter
	Resize(cols, rows uint16) error
	Terminate(grace time.Duration) error
	Done() <-chan struct{}
	ExitCode() int
	Pid() int
	Shell() string
}

// Spawner starts shells with one adapter variant.
type Spawner interface {
	Mode() Mode
	Start(opts StartOptions) (Process, error)
	// LineEnding terminates an injected command line.
	LineEnding() string
}

// NewSpawner returns the adapter for mode. ModeAuto picks the pseudo-terminal
// adapter when the platform supports it.
func NewSpawner(mode Mode, logger *zap.Logger) (Spawner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch mode {
	case ModeAuto, "":
		if ptySupported {
			return newPTYSpawner(logger), nil
		}
		return newPipeSpawner(logger), nil
	case ModePTY:
		if !ptySupported {
			return nil, errors.New("pseudo-terminals are not supported on this platform")
		}
		return newPTYSpawner(logger), nil
	case ModePipe:
		return newPipeSpawner(logger), nil
	default:
		return nil, fmt.Errorf("unknown terminal mode %q", mode)
	}
}

// shellCandidates returns the preferred shell followed by the platform
// fallbacks, without duplicates.
func shellCandidates(preferred string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append([]string{preferred}, platformShells()...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// startFirst tries each candidate shell in order and returns the first that starts.
func startFirst(opts StartOptions, logger *zap.Logger, start func(shell string) (Process, error)) (Process, error) {
	var lastErr error
	tried := ""
	for _, shell := range shellCandidates(opts.Shell) {
		if _, err := exec.LookPath(shell); err != nil {
			lastErr = err
			continue
		}
		proc, err := start(shell)
		if err == nil {
			if tried != "" {
				logger.Warn("Fell back to alternate shell", zap.String("shell", shell), zap.String("failed", tried))
			}
			return proc, nil
		}
		logger.Warn("Shell failed to start", zap.String("shell", shell), zap.Error(err))
		tried = shell
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no shell candidates")
	}
	return nil, &SpawnError{Shell: opts.Shell, Err: lastErr}
}

func spawnEnv(extra []string) []string {
	env := append(os.Environ(), "TERM=xterm-256color")
	return append(env, extra...)
}

// drainTimeout bounds how long a stray descendant holding the output side open
// can keep Read blocked after the shell itself exited.
const drainTimeout = 2 * time.Second

// killWait bounds the wait for the kernel to reap a force-killed process.
const killWait = 2 * time.Second

// execProcess is the lifecycle shared by both adapters: reap in the
// background, signal then escalate on Terminate, release file descriptors once.
type execProcess struct {
	cmd   *exec.Cmd
	shell string

	done     chan struct{}
	exitCode int

	releaseOnce sync.Once
	release     func()
}

func newExecProcess(cmd *exec.Cmd, shell string, release func()) *execProcess {
	p := &execProcess{
		cmd:      cmd,
		shell:    shell,
		done:     make(chan struct{}),
		exitCode: -1,
		release:  release,
	}
	go p.reap()
	return p
}

func (p *execProcess) reap() {
	_ = p.cmd.Wait()
	p.exitCode = exitCodeOf(p.cmd.ProcessState)
	close(p.done)
	time.AfterFunc(drainTimeout, p.releaseIO)
}

func (p *execProcess) releaseIO() {
	p.releaseOnce.Do(p.release)
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

// ExitCode is valid once Done is closed; signal deaths report 128+signal.
func (p *execProcess) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Shell() string { return p.shell }

func (p *execProcess) Terminate(grace time.Duration) error {
	defer p.releaseIO()

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := hangup(p.cmd.Process); err != nil {
		grace = 0
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	killErr := forceKill(p.cmd.Process)
	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		if killErr != nil {
			return fmt.Errorf("kill process %d: %w", p.Pid(), killErr)
		}
		return fmt.Errorf("process %d still running after kill", p.Pid())
	}
}
