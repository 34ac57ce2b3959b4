// Package pidfile manages the PID file of a running service.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrNoPIDFile      = errors.New("no PID file found")
	ErrInvalidPID     = errors.New("invalid PID in file")
	ErrAlreadyRunning = errors.New("service already running")
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// File is a PID file at a fixed path.
type File struct {
	path string
}

// New returns the PID file at path. Nothing is created until Write.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file's location.
func (f *File) Path() string {
	return f.path
}

// Write records pid, creating parent directories if needed.
func (f *File) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(f.path), dirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	content := strconv.Itoa(pid) + "\n"
	if err := os.WriteFile(f.path, []byte(content), filePerm); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID.
// Returns ErrNoPIDFile if the file doesn't exist and ErrInvalidPID if it
// does not hold a positive integer.
func (f *File) Read() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrInvalidPID
	}
	return pid, nil
}

// Remove deletes the file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive.
// With no PID file it returns (false, 0, nil); with a stale one
// (false, pid, nil).
func (f *File) IsRunning() (bool, int, error) {
	pid, err := f.Read()
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return false, 0, nil
		}
		return false, 0, err
	}
	running, err := Alive(pid)
	return running, pid, err
}

// CleanStale removes the file if its process is gone and reports whether
// it did.
func (f *File) CleanStale() (bool, error) {
	running, pid, err := f.IsRunning()
	if err != nil {
		return false, err
	}
	if running || pid == 0 {
		return false, nil
	}
	if err := f.Remove(); err != nil {
		return false, err
	}
	return true, nil
}

// Acquire writes the current process ID unless another live process
// already holds the file, in which case ErrAlreadyRunning is returned.
// A stale file is replaced.
func (f *File) Acquire() error {
	running, pid, err := f.IsRunning()
	if err != nil && !errors.Is(err, ErrInvalidPID) {
		return err
	}
	if running && pid != os.Getpid() {
		return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}
	return f.Write(os.Getpid())
}

// Alive checks for a process with signal 0. EPERM means the process exists
// but belongs to someone else.
func Alive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, fmt.Errorf("check process: %w", err)
	}
}
