package terminal

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// fakeProcess is an in-memory Process. Tests push output with emit and end
// the stream with exit.
type fakeProcess struct {
	shell string
	echo  bool

	out  chan []byte
	done chan struct{}

	mu           sync.Mutex
	closed       bool
	pending      []byte
	input        bytes.Buffer
	cols, rows   uint16
	exitCode     int
	resizeErr    error
	terminateErr error
	terminations int
	ignoreHangup bool
	// stall blocks Write until closed, like a process that stopped reading.
	stall chan struct{}
	// holdOutput keeps the output stream open after exit, like a detached
	// descendant still holding the terminal.
	holdOutput bool
	outClosed  bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		shell:    "/bin/fake",
		out:      make(chan []byte, 4096),
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

func (p *fakeProcess) emit(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.out <- append([]byte(nil), b...)
}

func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.exitCode = code
	close(p.done)
	if !p.holdOutput {
		p.outClosed = true
		close(p.out)
	}
}

func (p *fakeProcess) closeOutput() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.outClosed {
		p.outClosed = true
		close(p.out)
	}
}

func (p *fakeProcess) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		chunk, ok := <-p.out
		if !ok {
			return 0, io.EOF
		}
		p.pending = chunk
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	if p.stall != nil {
		<-p.stall
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("write to exited process")
	}
	p.input.Write(b)
	p.mu.Unlock()
	if p.echo {
		p.emit(b)
	}
	return len(b), nil
}

func (p *fakeProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resizeErr != nil {
		return p.resizeErr
	}
	p.cols, p.rows = cols, rows
	return nil
}

func (p *fakeProcess) Terminate(grace time.Duration) error {
	p.mu.Lock()
	p.terminations++
	err := p.terminateErr
	ignore := p.ignoreHangup
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if ignore {
		time.Sleep(grace)
		p.exit(137)
		return nil
	}
	p.exit(129)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Shell() string { return p.shell }

func (p *fakeProcess) inputLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.Len()
}

func (p *fakeProcess) inputString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

// fakeSpawner hands out fakeProcesses and remembers them.
type fakeSpawner struct {
	mode  Mode
	err   error
	echo  bool
	setup func(*fakeProcess)

	mu    sync.Mutex
	procs []*fakeProcess
	opts  []StartOptions
}

func (s *fakeSpawner) Mode() Mode {
	if s.mode == "" {
		return ModePipe
	}
	return s.mode
}

func (s *fakeSpawner) LineEnding() string { return "\n" }

func (s *fakeSpawner) Start(opts StartOptions) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return nil, &SpawnError{Shell: opts.Shell, Err: s.err}
	}
	p := newFakeProcess()
	p.echo = s.echo
	if s.setup != nil {
		s.setup(p)
	}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}
