// Package datetime resolves the loose date and time phrases extracted from a
// call transcript into calendar values.
//
// Resolution is pure: no I/O, no clock access. Callers pass "today"
// explicitly so results are reproducible.
package datetime

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ISOLayout is the calendar date format produced by NormalizeDate.
const ISOLayout = "2006-01-02"

var (
	isoDatePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	monthDayPattern = regexp.MustCompile(`^([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?$`)
	dayMonthPattern = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?([a-z]+)\.?(?:,?\s+(\d{4}))?$`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"sun":       time.Sunday,
	"monday":    time.Monday,
	"mon":       time.Monday,
	"tuesday":   time.Tuesday,
	"tue":       time.Tuesday,
	"tues":      time.Tuesday,
	"wednesday": time.Wednesday,
	"wed":       time.Wednesday,
	"thursday":  time.Thursday,
	"thu":       time.Thursday,
	"thur":      time.Thursday,
	"thurs":     time.Thursday,
	"friday":    time.Friday,
	"fri":       time.Friday,
	"saturday":  time.Saturday,
	"sat":       time.Saturday,
}

// months is keyed by the three-letter abbreviation of each month.
var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// ResolveDate turns a date phrase into a calendar date relative to today.
// The returned time is midnight in today's location. ok is false when no
// rule matched.
//
// Rules are tried in order: ISO date, today/tomorrow/day after tomorrow,
// bare weekday, next/this weekday, month and day.
func ResolveDate(raw string, today time.Time) (time.Time, bool) {
	phrase := normalize(raw)
	if phrase == "" {
		return time.Time{}, false
	}
	base := startOfDay(today)

	if d, ok := parseISO(phrase, base.Location()); ok {
		return d, true
	}
	if d, ok := resolveKeyword(phrase, base); ok {
		return d, true
	}
	if d, ok := resolveWeekday(phrase, base); ok {
		return d, true
	}
	if d, ok := resolveMonthDay(phrase, base); ok {
		return d, true
	}
	return time.Time{}, false
}

// NormalizeDate returns the ISO form of a resolvable phrase, or raw
// unchanged when it cannot be resolved.
func NormalizeDate(raw string, today time.Time) string {
	if d, ok := ResolveDate(raw, today); ok {
		return d.Format(ISOLayout)
	}
	return raw
}

func parseISO(phrase string, loc *time.Location) (time.Time, bool) {
	if !isoDatePattern.MatchString(phrase) {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(ISOLayout, phrase, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func resolveKeyword(phrase string, today time.Time) (time.Time, bool) {
	switch {
	case containsWords(phrase, "day after tomorrow"):
		return today.AddDate(0, 0, 2), true
	case containsWords(phrase, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	case containsWords(phrase, "today"), containsWords(phrase, "tonight"):
		return today, true
	}
	return time.Time{}, false
}

func resolveWeekday(phrase string, today time.Time) (time.Time, bool) {
	fields := strings.Fields(phrase)

	var qualifier, name string
	switch len(fields) {
	case 1:
		name = fields[0]
	case 2:
		qualifier, name = fields[0], fields[1]
	default:
		return time.Time{}, false
	}

	wd, ok := weekdays[name]
	if !ok {
		return time.Time{}, false
	}

	switch qualifier {
	case "", "on", "next":
		return nextWeekday(today, wd), true
	case "this", "coming":
		return nearestWeekday(today, wd), true
	}
	return time.Time{}, false
}

// nextWeekday returns the first wd strictly after today. When today is wd
// the result is a week out.
func nextWeekday(today time.Time, wd time.Weekday) time.Time {
	delta := (int(wd) - int(today.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return today.AddDate(0, 0, delta)
}

// nearestWeekday returns the first wd on or after today.
func nearestWeekday(today time.Time, wd time.Weekday) time.Time {
	delta := (int(wd) - int(today.Weekday()) + 7) % 7
	return today.AddDate(0, 0, delta)
}

func resolveMonthDay(phrase string, today time.Time) (time.Time, bool) {
	var monthWord, dayDigits, yearDigits string

	if m := monthDayPattern.FindStringSubmatch(phrase); m != nil {
		monthWord, dayDigits, yearDigits = m[1], m[2], m[3]
	} else if m := dayMonthPattern.FindStringSubmatch(phrase); m != nil {
		dayDigits, monthWord, yearDigits = m[1], m[2], m[3]
	} else {
		return time.Time{}, false
	}

	month, ok := lookupMonth(monthWord)
	if !ok {
		return time.Time{}, false
	}

	day, err := strconv.Atoi(dayDigits)
	if err != nil {
		return time.Time{}, false
	}

	year := today.Year()
	if yearDigits != "" {
		if year, err = strconv.Atoi(yearDigits); err != nil {
			return time.Time{}, false
		}
	}

	d := time.Date(year, month, day, 0, 0, 0, 0, today.Location())
	// time.Date normalises overflow (Feb 30 -> Mar 2); reject those.
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func lookupMonth(word string) (time.Month, bool) {
	if len(word) < 3 {
		return 0, false
	}
	month, ok := months[word[:3]]
	if !ok {
		return 0, false
	}
	if word == "sept" || strings.HasPrefix(strings.ToLower(month.String()), word) {
		return month, true
	}
	return 0, false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// normalize lowercases, collapses whitespace and strips trailing
// punctuation a language model tends to leave behind.
func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, ".,;!?\"'")
	return strings.Join(strings.Fields(s), " ")
}

// containsWords reports whether words appears in phrase on word boundaries,
// ignoring punctuation.
func containsWords(phrase, words string) bool {
	cleaned := strings.Join(strings.FieldsFunc(phrase, isSeparator), " ")
	return strings.Contains(" "+cleaned+" ", " "+words+" ")
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
}
