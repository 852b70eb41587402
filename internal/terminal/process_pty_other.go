//go:build !windows && !linux

package terminal

import (
	"os"

	"github.com/creack/pty"
)

// The BSD pollers do not report pty masters reliably, so the master stays
// blocking there. Session bounds its wait on the output stream instead.
func pollableMaster(ptmx *os.File) (*os.File, error) {
	return ptmx, nil
}

func setWinsize(f *os.File, cols, rows uint16) error {
	return pty.Setsize(f, &pty.Winsize{Cols: cols, Rows: rows})
}
