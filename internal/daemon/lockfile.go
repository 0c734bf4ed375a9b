package daemon

import (
	"errors"
	"fmt"
	"os"
)

// ErrLockHeld means another maestro instance owns the working directory.
var ErrLockHeld = errors.New("lock held by another process")

// LockFile enforces one daemon per working directory with an exclusive
// advisory lock. The lock dies with the process, so a crash never leaves
// the directory locked.
type LockFile struct {
	path string
	file *os.File
}

func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

func (l *LockFile) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := l.platformLock(f); err != nil {
		f.Close()
		return err
	}

	l.file = f
	return nil
}

// Release unlocks and removes the lock file.
func (l *LockFile) Release() error {
	if l.file == nil {
		return nil
	}

	l.platformUnlock(l.file)
	err := l.file.Close()
	l.file = nil
	os.Remove(l.path)
	return err
}

// Abandon unlocks without removing the file, for handing the directory
// to another process.
func (l *LockFile) Abandon() error {
	if l.file == nil {
		return nil
	}

	l.platformUnlock(l.file)
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *LockFile) IsLocked() bool {
	return l.file != nil
}
