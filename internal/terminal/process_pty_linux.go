package terminal

import (
	"os"

	"golang.org/x/sys/unix"
)

// pollableMaster moves the pty master onto a non-blocking descriptor so the
// runtime poller owns it. Close then interrupts a Read that is parked waiting
// for output, which a blocking read(2) would not notice.
func pollableMaster(ptmx *os.File) (*os.File, error) {
	fd, err := unix.FcntlInt(ptmx.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	_ = ptmx.Close()
	return os.NewFile(uintptr(fd), ptmx.Name()), nil
}

// setWinsize goes through SyscallConn; File.Fd would flip the descriptor back
// to blocking mode.
func setWinsize(f *os.File, cols, rows uint16) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ioctlErr error
	err = rc.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, &unix.Winsize{Row: rows, Col: cols})
	})
	if err != nil {
		return err
	}
	return ioctlErr
}
