package terminal

import (
	"errors"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

type pipeSpawner struct {
	logger *zap.Logger
}

func newPipeSpawner(logger *zap.Logger) Spawner {
	return &pipeSpawner{logger: logger}
}

func (s *pipeSpawner) Mode() Mode { return ModePipe }

func (s *pipeSpawner) LineEnding() string { return pipeLineEnding }

// Start spawns the shell with stdin on one pipe and stdout+stderr merged
// onto another.
func (s *pipeSpawner) Start(opts StartOptions) (Process, error) {
	return startFirst(opts, s.logger, func(shell string) (Process, error) {
		inR, inW, err := os.Pipe()
		if err != nil {
			return nil, err
		}
		outR, outW, err := os.Pipe()
		if err != nil {
			inR.Close()
			inW.Close()
			return nil, err
		}

		cmd := exec.Command(shell)
		cmd.Dir = opts.Dir
		cmd.Env = spawnEnv(opts.Env)
		cmd.Stdin = inR
		cmd.Stdout = outW
		cmd.Stderr = outW
		ownProcessGroup(cmd)

		err = cmd.Start()
		// The child holds its own copies now.
		inR.Close()
		outW.Close()
		if err != nil {
			inW.Close()
			outR.Close()
			return nil, err
		}

		p := &pipeProcess{stdin: inW, stdout: outR}
		p.execProcess = newExecProcess(cmd, shell, func() {
			_ = inW.Close()
			_ = outR.Close()
		})
		return p, nil
	})
}

type pipeProcess struct {
	*execProcess
	stdin  *os.File
	stdout *os.File
}

func (p *pipeProcess) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if err != nil && errors.Is(err, os.ErrClosed) {
		err = io.EOF
	}
	return n, err
}

func (p *pipeProcess) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Resize is meaningless without a terminal.
func (p *pipeProcess) Resize(cols, rows uint16) error {
	return ErrResizeUnsupported
}
