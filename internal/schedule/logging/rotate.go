package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// rotatingFile is an io.Writer that appends to <prefix>-YYYY-MM-DD.log and
// switches files when the UTC date changes.
type rotatingFile struct {
	dir    string
	prefix string

	mu          sync.Mutex
	file        *os.File
	currentDate string
}

// FileName returns the log file name for the given day.
func FileName(prefix string, day time.Time) string {
	return fmt.Sprintf("%s-%s.log", prefix, day.UTC().Format(dateLayout))
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotateIfNeededLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		return 0, err
	}
	return r.file.Write(p)
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *rotatingFile) path() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Name()
	}
	return filepath.Join(r.dir, FileName(r.prefix, time.Now()))
}

func (r *rotatingFile) rotateIfNeeded() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateIfNeededLocked()
}

func (r *rotatingFile) rotateIfNeededLocked() error {
	today := time.Now().UTC().Format(dateLayout)
	if r.currentDate == today && r.file != nil {
		return nil
	}

	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	name := filepath.Join(r.dir, FileName(r.prefix, time.Now()))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	r.file = file
	r.currentDate = today
	return nil
}

// cleanOldLogs removes this prefix's files older than retentionDays.
func (r *rotatingFile) cleanOldLogs(retentionDays int) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	prefix := r.prefix + "-"
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	var toDelete []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}

		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log")
		logDate, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			continue
		}

		if logDate.Before(cutoff) {
			toDelete = append(toDelete, filepath.Join(r.dir, name))
		}
	}

	sort.Strings(toDelete)

	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old log file %s: %w", path, err)
		}
	}
	return nil
}
