//go:build !windows

package terminal

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const pipeLineEnding = "\n"

func platformShells() []string {
	return []string{
		os.Getenv("SHELL"),
		"/bin/bash",
		"/bin/sh",
		"/system/bin/sh",
		"/data/data/com.termux/files/usr/bin/sh",
	}
}

// ownProcessGroup puts a pipe-mode shell in its own group so termination
// reaches the jobs it started.
func ownProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// hangup delivers SIGHUP to the shell's process group. Interactive shells
// ignore SIGTERM but exit on hangup, as they would when a real terminal closes.
func hangup(p *os.Process) error {
	return signalGroup(p, unix.SIGHUP)
}

func forceKill(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return os.ErrProcessDone
	}
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = p.Signal(sig)
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func exitCodeOf(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
