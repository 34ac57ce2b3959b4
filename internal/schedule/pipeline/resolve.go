package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/TechnicallyShaun/callsched/internal/schedule/datetime"
	"github.com/TechnicallyShaun/callsched/internal/schedule/response"
)

// TimeFallback selects what happens when the date or time of a call cannot
// be resolved.
type TimeFallback string

const (
	// FallbackNone leaves unresolved parts empty.
	FallbackNone TimeFallback = "none"
	// FallbackNextHour fills unresolved parts from the current time plus one
	// hour.
	FallbackNextHour TimeFallback = "next_hour"
)

// ParseTimeFallback validates a config value. Empty means FallbackNone.
func ParseTimeFallback(s string) (TimeFallback, error) {
	switch TimeFallback(strings.ToLower(strings.TrimSpace(s))) {
	case "", FallbackNone:
		return FallbackNone, nil
	case FallbackNextHour:
		return FallbackNextHour, nil
	default:
		return FallbackNone, fmt.Errorf("unknown time fallback %q", s)
	}
}

// Resolve turns validated fields into a schedule. today anchors relative
// dates; now is used only by the next-hour fallback.
func Resolve(fields response.Fields, today, now time.Time, fallback TimeFallback) *ResolvedSchedule {
	s := &ResolvedSchedule{
		Title:   fields.Title,
		Place:   fields.Place,
		RawDate: fields.Date,
		RawTime: fields.Time,
	}

	if d, ok := datetime.ResolveDate(fields.Date, today); ok {
		s.Date = Date{Time: d, Valid: true}
	}
	if c, ok := datetime.ResolveTime(fields.Time); ok {
		s.Time = Clock{Value: c, Valid: true}
	}

	if fallback == FallbackNextHour && (!s.Date.Valid || !s.Time.Valid) {
		next := now.Add(time.Hour)
		if !s.Date.Valid {
			s.Date = Date{Time: time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, next.Location()), Valid: true}
		}
		if !s.Time.Valid {
			s.Time = Clock{Value: datetime.Clock{Hour: next.Hour(), Minute: next.Minute()}, Valid: true}
		}
		s.Fallback = true
	}

	return s
}
