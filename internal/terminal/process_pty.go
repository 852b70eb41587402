//go:build !windows

package terminal

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

const ptySupported = true

type ptySpawner struct {
	logger *zap.Logger
}

func newPTYSpawner(logger *zap.Logger) Spawner {
	return &ptySpawner{logger: logger}
}

func (s *ptySpawner) Mode() Mode { return ModePTY }

func (s *ptySpawner) LineEnding() string { return "\r" }

// Start spawns the shell as a session leader with the pty slave as its
// controlling terminal.
func (s *ptySpawner) Start(opts StartOptions) (Process, error) {
	return startFirst(opts, s.logger, func(shell string) (Process, error) {
		cmd := exec.Command(shell)
		cmd.Dir = opts.Dir
		cmd.Env = spawnEnv(opts.Env)

		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
		if err != nil {
			return nil, err
		}
		if master, err := pollableMaster(ptmx); err != nil {
			s.logger.Warn("Pty master left in blocking mode", zap.Error(err))
		} else {
			ptmx = master
		}
		p := &ptyProcess{ptmx: ptmx}
		p.execProcess = newExecProcess(cmd, shell, func() { _ = ptmx.Close() })
		return p, nil
	})
}

type ptyProcess struct {
	*execProcess
	ptmx *os.File
}

// Read maps the master side's end-of-stream conditions to io.EOF: EIO once
// every slave holder is gone, ErrClosed after Terminate released the fd.
func (p *ptyProcess) Read(b []byte) (int, error) {
	n, err := p.ptmx.Read(b)
	if err != nil && (errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)) {
		err = io.EOF
	}
	return n, err
}

func (p *ptyProcess) Write(b []byte) (int, error) {
	return p.ptmx.Write(b)
}

func (p *ptyProcess) Resize(cols, rows uint16) error {
	return setWinsize(p.ptmx, cols, rows)
}
