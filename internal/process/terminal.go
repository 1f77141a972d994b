package process

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/coralsh/coral/internal/types"
)

// Terminal manages foreground ownership of the controlling tty. All
// methods are nil-safe so the engine runs unchanged without a terminal
// (pipes, CI, the observer API).
type Terminal struct {
	fd   int
	pgid int
}

// OpenTerminal wraps fd if it is a tty, nil otherwise. The shell ignores
// the terminal-stop signals so it can take the foreground back from a
// finished or stopped job without being suspended itself.
func OpenTerminal(f *os.File) *Terminal {
	if f == nil {
		return nil
	}
	fd := int(f.Fd())
	if _, err := unix.IoctlGetTermios(fd, termiosGet); err != nil {
		return nil
	}
	signal.Ignore(syscall.SIGTTOU, syscall.SIGTTIN, syscall.SIGTSTP)
	return &Terminal{fd: fd, pgid: unix.Getpgrp()}
}

// Grant hands terminal foreground control to the given process group.
func (t *Terminal) Grant(pgid int) error {
	if t == nil {
		return nil
	}
	if err := unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid); err != nil {
		return types.Signalf("grant foreground to pgid %d: %v", pgid, err)
	}
	return nil
}

// Claim returns terminal foreground control to the shell itself.
func (t *Terminal) Claim() error {
	if t == nil {
		return nil
	}
	if err := unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, t.pgid); err != nil {
		return types.Signalf("reclaim foreground: %v", err)
	}
	return nil
}

// ForegroundPGID reports which group currently owns the terminal.
func (t *Terminal) ForegroundPGID() (int, error) {
	if t == nil {
		return 0, nil
	}
	pgid, err := unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
	if err != nil {
		return 0, types.Signalf("query foreground pgid: %v", err)
	}
	return pgid, nil
}
