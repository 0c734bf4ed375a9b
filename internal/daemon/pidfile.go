package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFile records the daemon's pid for operators. The advisory lock is
// what actually enforces single-instance; the pid file is informational
// but refuses to clobber a live process.
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

func (p *PIDFile) Write() error {
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("create pid file: %w", err)
		}

		// Never follow a symlink into overwriting something else.
		if info, lerr := os.Lstat(p.path); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("pid file %s is a symlink", p.path)
		}
		if pid, rerr := p.Read(); rerr == nil && pid > 0 && processExists(pid) {
			return fmt.Errorf("pid file %s names running process %d", p.path, pid)
		}

		// Stale leftover from an unclean exit.
		os.Remove(p.path)
		f, err = os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("create pid file: %w", err)
		}
	}
	defer f.Close()

	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(content)
	if err != nil {
		return 0, fmt.Errorf("pid file %s is corrupt: %w", p.path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %s holds invalid pid %d", p.path, pid)
	}
	return pid, nil
}

// IsProcessAlive reports whether the recorded pid names a live process.
func (p *PIDFile) IsProcessAlive() bool {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return false
	}
	return processExists(pid)
}

func (p *PIDFile) Remove() error {
	if info, err := os.Lstat(p.path); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("refusing to remove pid file %s: is a symlink", p.path)
		}
	}
	if pid, err := p.Read(); err == nil && pid != 0 && pid != os.Getpid() {
		return fmt.Errorf("pid file %s belongs to process %d", p.path, pid)
	}
	return os.Remove(p.path)
}

func (p *PIDFile) Path() string {
	return p.path
}
