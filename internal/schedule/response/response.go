// Package response checks a language-model reply for the title and schedule
// sections the extraction prompt asks for.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Validation error kinds. Match them with errors.Is.
var (
	ErrMissingSection   = errors.New("missing section")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing field")
)

// Field names of the schedule payload.
const (
	FieldTitle = "title"
	FieldDate  = "date"
	FieldTime  = "time"
	FieldPlace = "place"
)

// ValidationError reports why a reply was rejected.
type ValidationError struct {
	Kind   error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "invalid response: " + e.Kind.Error()
	}
	return fmt.Sprintf("invalid response: %v: %s", e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// Fields are the raw values extracted from a valid reply. Date and Time are
// free-form phrases, resolved later.
type Fields struct {
	Title string
	Date  string
	Time  string
	Place string
}

var (
	// Markers tolerate markdown emphasis such as **Title:** or __SCHEDULE__:.
	titleMarker    = regexp.MustCompile(`(?i)\btitle[*_]*\s*:[*_]*`)
	scheduleMarker = regexp.MustCompile(`(?i)\bschedule[*_]*\s*:[*_]*`)
	codeFence      = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
)

// Validate checks, in order, that the reply has both section markers, that
// exactly one flat JSON object follows the schedule marker, and that the
// object has the date, time and place keys. The first failed check is
// returned as a *ValidationError.
func Validate(text string) (Fields, error) {
	titleLoc := titleMarker.FindStringIndex(text)
	schedLoc := scheduleMarker.FindStringIndex(text)

	switch {
	case titleLoc == nil && schedLoc == nil:
		return Fields{}, invalid(ErrMissingSection, "title and schedule")
	case titleLoc == nil:
		return Fields{}, invalid(ErrMissingSection, "title")
	case schedLoc == nil:
		return Fields{}, invalid(ErrMissingSection, "schedule")
	}

	payload, err := extractObject(text[schedLoc[1]:])
	if err != nil {
		return Fields{}, err
	}

	values, err := decodeObject(payload)
	if err != nil {
		return Fields{}, err
	}

	for _, key := range []string{FieldDate, FieldTime, FieldPlace} {
		if _, ok := values[key]; !ok {
			return Fields{}, invalid(ErrMissingField, key)
		}
	}

	title := titleText(text, titleLoc[1], schedLoc[0])
	if title == "" {
		return Fields{}, invalid(ErrMissingField, FieldTitle)
	}

	return Fields{
		Title: title,
		Date:  values[FieldDate],
		Time:  values[FieldTime],
		Place: values[FieldPlace],
	}, nil
}

// extractObject returns the single {...} fragment in s. Code fences are
// ignored; zero, several or nested braces are malformed.
func extractObject(s string) (string, error) {
	s = codeFence.ReplaceAllString(s, "")

	open := strings.Count(s, "{")
	closing := strings.Count(s, "}")
	switch {
	case open == 0 && closing == 0:
		return "", invalid(ErrMalformedPayload, "no object after schedule marker")
	case open != 1 || closing != 1:
		return "", invalid(ErrMalformedPayload, "expected exactly one flat object")
	}

	start := strings.Index(s, "{")
	end := strings.Index(s, "}")
	if end < start {
		return "", invalid(ErrMalformedPayload, "unbalanced braces")
	}
	return s[start : end+1], nil
}

// decodeObject parses a flat JSON object into lower-cased keys and string
// values. Numbers are kept in their literal form and null becomes empty.
func decodeObject(payload string) (map[string]string, error) {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, invalid(ErrMalformedPayload, err.Error())
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		switch val := v.(type) {
		case nil:
			values[key] = ""
		case string:
			values[key] = strings.TrimSpace(val)
		case json.Number:
			values[key] = val.String()
		case bool:
			values[key] = strconv.FormatBool(val)
		default:
			return nil, invalid(ErrMalformedPayload, fmt.Sprintf("%q is not a scalar", k))
		}
	}
	return values, nil
}

// titleText returns the text after the title marker up to the end of its
// line, or up to the schedule marker when both share a line.
func titleText(text string, from, schedStart int) string {
	rest := text[from:]
	if i := strings.IndexAny(rest, "\r\n"); i >= 0 {
		rest = rest[:i]
	}
	if schedStart > from && schedStart-from < len(rest) {
		rest = rest[:schedStart-from]
	}
	return strings.Trim(strings.TrimSpace(rest), "*_\"'` ")
}

func invalid(kind error, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Detail: detail}
}
