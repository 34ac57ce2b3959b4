// Package stabilizer decides when a recording has finished being written.
package stabilizer

import (
	"context"
	"errors"
	"os"
	"time"
)

var (
	// ErrStabilizationTimeout is returned when the file is still changing
	// after MaxPolls polls.
	ErrStabilizationTimeout = errors.New("stabilization timeout: file did not stabilize in time")

	// ErrEmptyFile is returned when the file is still zero bytes after
	// MaxPolls polls.
	ErrEmptyFile = errors.New("stabilization timeout: file is empty")

	// ErrFileMissing is returned when the file does not exist at the last poll.
	ErrFileMissing = errors.New("stabilization timeout: file is missing")
)

// Defaults used when a PollStabilizer field is zero.
const (
	DefaultInterval = time.Second
	DefaultChecks   = 3
	DefaultMaxPolls = 30
)

// Stabilizer waits for a file to finish writing.
type Stabilizer interface {
	WaitForStable(ctx context.Context, path string) (os.FileInfo, error)
}

// PollStabilizer implements Stabilizer using polling.
type PollStabilizer struct {
	// Interval is the duration between file size checks.
	Interval time.Duration

	// Checks is the number of consecutive polls that must report the same
	// non-zero size as the poll before them.
	Checks int

	// MaxPolls bounds the number of polls before giving up.
	MaxPolls int
}

// NewPollStabilizer creates a new polling-based stabilizer.
func NewPollStabilizer(interval time.Duration, checks, maxPolls int) *PollStabilizer {
	return &PollStabilizer{
		Interval: interval,
		Checks:   checks,
		MaxPolls: maxPolls,
	}
}

// WaitForStable polls the file size until it stays the same, and above
// zero, for Checks consecutive polls. It returns the file info of the last
// poll. A missing file is tolerated until the final poll, so a recorder that
// replaces its output by rename does not lose the candidate.
//
// Returns ctx.Err() if the context ends first.
func (s *PollStabilizer) WaitForStable(ctx context.Context, path string) (os.FileInfo, error) {
	interval, checks, maxPolls := s.settings()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	var (
		lastSize    int64 = -1
		stableCount int
		lastInfo    os.FileInfo
		lastErr     error
	)

	for poll := 0; poll < maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		timer.Reset(interval)

		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			lastInfo, lastErr = nil, err
			lastSize, stableCount = -1, 0
			continue
		}
		lastInfo, lastErr = info, nil

		size := info.Size()
		if size > 0 && size == lastSize {
			stableCount++
			if stableCount >= checks {
				return info, nil
			}
		} else {
			stableCount = 0
		}
		lastSize = size
	}

	switch {
	case lastErr != nil:
		return nil, ErrFileMissing
	case lastInfo == nil:
		return nil, ErrFileMissing
	case lastInfo.Size() == 0:
		return nil, ErrEmptyFile
	default:
		return nil, ErrStabilizationTimeout
	}
}

func (s *PollStabilizer) settings() (time.Duration, int, int) {
	interval, checks, maxPolls := s.Interval, s.Checks, s.MaxPolls
	if interval <= 0 {
		interval = DefaultInterval
	}
	if checks <= 0 {
		checks = DefaultChecks
	}
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	return interval, checks, maxPolls
}
