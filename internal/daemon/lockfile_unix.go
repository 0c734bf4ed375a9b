//go:build unix

package daemon

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// platformLock takes an exclusive non-blocking flock. EWOULDBLOCK maps
// to ErrLockHeld so callers can report "already running" cleanly.
func (l *LockFile) platformLock(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLockHeld
		}
		return fmt.Errorf("flock: %w", err)
	}
	return nil
}

func (l *LockFile) platformUnlock(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
