// Package status summarizes the service log for the status command.
package status

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TechnicallyShaun/callsched/internal/schedule/logging"
	"github.com/TechnicallyShaun/callsched/internal/schedule/sink"
)

// Stats holds parsed statistics from a log file.
type Stats struct {
	Completed int
	Failed    int
	Errors    int
	LastRun   *Run
}

// Run is the most recent outcome line.
type Run struct {
	Timestamp time.Time
	RunID     string
	File      string
	Status    string
	Title     string
	Date      string
	Hour      string
	Minute    string
	Stage     string
	Reason    string
}

// When renders the resolved date and time, or "" when neither is known.
func (r *Run) When() string {
	when := r.Date
	if r.Hour != "" {
		when = strings.TrimSpace(when + " " + r.Hour + ":" + r.Minute)
	}
	return when
}

// logLine is the subset of fields the service writes that status reads.
type logLine struct {
	Level   string    `json:"level"`
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	RunID   string    `json:"run_id"`
	File    string    `json:"file"`
	Status  string    `json:"status"`
	Title   string    `json:"title"`
	Date    string    `json:"date"`
	Hour    string    `json:"hour"`
	Minute  string    `json:"minute"`
	Stage   string    `json:"stage"`
	Reason  string    `json:"reason"`
}

// TodayLogPath returns the path of today's log file under logDir.
func TodayLogPath(logDir string) string {
	return filepath.Join(logDir, logging.FileName(logging.DefaultPrefix, time.Now()))
}

// ParseToday parses today's log file under logDir.
func ParseToday(logDir string) (*Stats, error) {
	return ParseLogFile(TodayLogPath(logDir))
}

// ParseLogFile parses a log file and returns statistics.
// Returns empty stats if the file doesn't exist. Lines that are not JSON
// are skipped.
func ParseLogFile(path string) (*Stats, error) {
	stats := &Stats{}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line logLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}

		if line.Level == "error" {
			stats.Errors++
		}
		if line.Message != sink.OutcomeMessage {
			continue
		}

		switch line.Status {
		case "completed":
			stats.Completed++
		case "failed":
			stats.Failed++
		default:
			continue
		}
		stats.LastRun = &Run{
			Timestamp: line.Time,
			RunID:     line.RunID,
			File:      line.File,
			Status:    line.Status,
			Title:     line.Title,
			Date:      line.Date,
			Hour:      line.Hour,
			Minute:    line.Minute,
			Stage:     line.Stage,
			Reason:    line.Reason,
		}
	}

	return stats, scanner.Err()
}

// FormatTimestamp formats a timestamp for display.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05")
}

// BaseName returns just the filename from a path.
func BaseName(path string) string {
	return filepath.Base(strings.TrimSuffix(path, "/"))
}
