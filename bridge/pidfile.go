package bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PidFile records the pid of a spawned helper so that a stale instance left
// behind by a crashed parent can be killed on the next start
type PidFile struct {
	Path string
}

// Read returns the recorded pid
func (p PidFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", p.Path)
	}
	return pid, nil
}

// Write records pid, creating parent directories
func (p PidFile) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)), 0o600)
}

// Remove deletes the pid file. A missing file is not an error.
func (p PidFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// KillStale kills the process recorded in the file if it is still alive and
// reports whether it did
func (p PidFile) KillStale() (bool, error) {
	pid, err := p.Read()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, p.Remove()
	}
	if pid == os.Getpid() {
		return false, nil
	}
	if err := unix.Kill(pid, 0); err != nil {
		return false, p.Remove()
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return false, fmt.Errorf("kill stale pid %d: %w", pid, err)
	}
	return true, p.Remove()
}
