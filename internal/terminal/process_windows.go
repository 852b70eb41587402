//go:build windows

package terminal

import (
	"os"
	"os/exec"
)

const pipeLineEnding = "\r\n"

func platformShells() []string {
	return []string{os.Getenv("COMSPEC"), "cmd.exe"}
}

func ownProcessGroup(*exec.Cmd) {}

// hangup has no graceful equivalent for console processes started over pipes.
func hangup(p *os.Process) error {
	return forceKill(p)
}

func forceKill(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

func exitCodeOf(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
