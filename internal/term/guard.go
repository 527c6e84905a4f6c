package term

import (
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// ModeGuard puts the daemon's own controlling terminal (when it has one,
// e.g. running attached for local debugging rather than as a systemd unit)
// into raw mode for the duration of a terminal color query, and restores it
// exactly once no matter how many times Restore is called or whether a
// panic unwinds through it. Ported from the teacher corpus's terminal
// safety guard, which makes the same idempotent-restore guarantee around
// its own stdio raw-mode toggling.
type ModeGuard struct {
	fd       int
	oldState *term.State
	once     sync.Once
}

// NewModeGuard wraps f's descriptor without changing its mode; Enable puts
// it into raw mode if it refers to a TTY. If it is not a TTY (the common
// case: sandboxd running as a background daemon), Enable and Restore are
// both no-ops so callers don't need to branch.
func NewModeGuard(f *os.File) *ModeGuard {
	fd := int(f.Fd())
	return &ModeGuard{fd: fd}
}

func (g *ModeGuard) IsTTY() bool { return isatty.IsTerminal(uintptr(g.fd)) }

// Enable switches the terminal to raw mode, returning an error only for a
// genuine ioctl failure; a non-TTY fd is treated as already "enabled" with
// nothing to restore.
func (g *ModeGuard) Enable() error {
	if !g.IsTTY() {
		return nil
	}
	old, err := term.MakeRaw(g.fd)
	if err != nil {
		return err
	}
	g.oldState = old
	return nil
}

// Restore idempotently returns the terminal to its pre-Enable state. Safe
// to call multiple times (including via defer alongside an explicit call)
// and safe to call when Enable was never invoked or failed.
func (g *ModeGuard) Restore() {
	g.once.Do(func() {
		if g.oldState != nil {
			_ = term.Restore(g.fd, g.oldState)
		}
	})
}
