package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TechnicallyShaun/callsched/internal/schedule/completion"
	"github.com/TechnicallyShaun/callsched/internal/schedule/datetime"
)

// ErrEmptyTranscript is the cause of a run whose transcript was blank.
var ErrEmptyTranscript = errors.New("empty result")

// Date is an optional civil date.
type Date struct {
	Time  time.Time
	Valid bool
}

// String returns YYYY-MM-DD, or "" when the date is not set.
func (d Date) String() string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format(datetime.ISOLayout)
}

// Clock is an optional hour and minute. Both are present or neither is.
type Clock struct {
	Value datetime.Clock
	Valid bool
}

// Hour returns the two-digit hour, or "" when unset.
func (c Clock) Hour() string {
	if !c.Valid {
		return ""
	}
	return fmt.Sprintf("%02d", c.Value.Hour)
}

// Minute returns the two-digit minute, or "" when unset.
func (c Clock) Minute() string {
	if !c.Valid {
		return ""
	}
	return fmt.Sprintf("%02d", c.Value.Minute)
}

// ResolvedSchedule is the schedule entry extracted from one call.
type ResolvedSchedule struct {
	Title string
	Date  Date
	Time  Clock
	Place string

	// RawDate and RawTime are the phrases the model returned.
	RawDate string
	RawTime string

	// Fallback is set when a missing date or time was filled in from the
	// next-hour policy rather than from the call.
	Fallback bool
}

// Start returns the local start of the entry when both date and time are
// known.
func (s *ResolvedSchedule) Start() (time.Time, bool) {
	if !s.Date.Valid || !s.Time.Valid {
		return time.Time{}, false
	}
	d := s.Date.Time
	return time.Date(d.Year(), d.Month(), d.Day(), s.Time.Value.Hour, s.Time.Value.Minute, 0, 0, d.Location()), true
}

type scheduleJSON struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Hour     string `json:"hour"`
	Minute   string `json:"minute"`
	Place    string `json:"place"`
	RawDate  string `json:"raw_date"`
	RawTime  string `json:"raw_time"`
	Fallback bool   `json:"fallback,omitempty"`
}

// MarshalJSON writes unresolved date and time parts as empty strings.
func (s ResolvedSchedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(scheduleJSON{
		Title:    s.Title,
		Date:     s.Date.String(),
		Hour:     s.Time.Hour(),
		Minute:   s.Time.Minute(),
		Place:    s.Place,
		RawDate:  s.RawDate,
		RawTime:  s.RawTime,
		Fallback: s.Fallback,
	})
}

// Failure records the stage a run stopped at and why.
type Failure struct {
	Stage  Stage
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Stage, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is the terminal result of one run. Exactly one of Schedule and
// Failure is set.
type Outcome struct {
	RunID      string
	Source     completion.RawAudioFile
	Transcript string
	Schedule   *ResolvedSchedule
	Failure    *Failure
	StartedAt  time.Time
	FinishedAt time.Time
}

// Completed reports whether the run finished without failure.
func (o Outcome) Completed() bool {
	return o.Failure == nil && o.Schedule != nil
}

// Status returns "completed" or "failed".
func (o Outcome) Status() string {
	if o.Completed() {
		return "completed"
	}
	return "failed"
}

// Duration is the wall time of the run.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

type sourceJSON struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

type failureJSON struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

type outcomeJSON struct {
	RunID      string            `json:"run_id"`
	Status     string            `json:"status"`
	Source     sourceJSON        `json:"source"`
	Schedule   *ResolvedSchedule `json:"schedule,omitempty"`
	Failure    *failureJSON      `json:"failure,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// MarshalJSON encodes the outcome for sinks. The transcript is left out.
func (o Outcome) MarshalJSON() ([]byte, error) {
	v := outcomeJSON{
		RunID:  o.RunID,
		Status: o.Status(),
		Source: sourceJSON{
			Path:    o.Source.Path,
			Size:    o.Source.Size,
			ModTime: o.Source.ModTime,
		},
		Schedule:   o.Schedule,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
	if o.Failure != nil {
		v.Failure = &failureJSON{Stage: o.Failure.Stage, Reason: o.Failure.Reason}
	}
	return json.Marshal(v)
}
