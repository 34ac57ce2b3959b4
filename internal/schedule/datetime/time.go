package datetime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Clock is a wall-clock time of day. Hour is 0-23, Minute 0-59.
type Clock struct {
	Hour   int
	Minute int
}

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

var (
	compactPattern   = regexp.MustCompile(`^(\d{2})(\d{2})$`)
	separatedPattern = regexp.MustCompile(`^(\d{1,2})[:\-.](\d{2})$`)
	meridiemPattern  = regexp.MustCompile(`\b(\d{1,2})(?:[:.](\d{2}))?\s*(am|pm|a|p)\b`)
	clockPattern     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	hourPattern      = regexp.MustCompile(`^(\d{1,2})$`)
	attachedMeridiem = regexp.MustCompile(`^(\d{1,2})(am|pm)$`)
	digitHourPattern = regexp.MustCompile(`\b(\d{1,2})(?:[:.](\d{2}))?(?:\s*o'?clock)?\s+(.+)$`)
)

// fillerPrefixes are stripped from the front of a time phrase before
// matching.
var fillerPrefixes = []string{"at ", "around ", "about ", "approximately ", "approx ", "by ", "before ", "after "}

var hourWords = map[string]int{
	"one":    1,
	"two":    2,
	"three":  3,
	"four":   4,
	"five":   5,
	"six":    6,
	"seven":  7,
	"eight":  8,
	"nine":   9,
	"ten":    10,
	"eleven": 11,
	"twelve": 12,
}

// periodsOfDay maps colloquial phrases to a representative time. Longer
// phrases come first so "late afternoon" wins over "afternoon".
var periodsOfDay = []struct {
	phrase string
	clock  Clock
}{
	{"early morning", Clock{7, 0}},
	{"late morning", Clock{11, 0}},
	{"early afternoon", Clock{13, 0}},
	{"late afternoon", Clock{16, 0}},
	{"early evening", Clock{17, 0}},
	{"late evening", Clock{21, 0}},
	{"late night", Clock{23, 0}},
	{"morning", Clock{9, 0}},
	{"afternoon", Clock{14, 0}},
	{"evening", Clock{18, 0}},
	{"tonight", Clock{20, 0}},
	{"night", Clock{20, 0}},
}

// ResolveTime turns a time phrase into a Clock. ok is false when no rule
// matched; the hour and minute are then both meaningless.
func ResolveTime(raw string) (Clock, bool) {
	phrase := normalizeTime(raw)
	if phrase == "" {
		return Clock{}, false
	}

	resolvers := []func(string) (Clock, bool){
		resolveCompact,
		resolveSeparated,
		resolveFraction,
		resolveMeridiem,
		resolveDigitMeridiemWords,
		resolveEmbeddedClock,
		resolveBareHour,
		resolveNamedTime,
		resolveNumberWords,
		resolvePeriodOfDay,
	}
	for _, resolve := range resolvers {
		if c, ok := resolve(phrase); ok {
			return c, true
		}
	}
	return Clock{}, false
}

// FormatTime resolves raw and returns zero-padded hour and minute strings.
// Both are empty when the phrase could not be resolved.
func FormatTime(raw string) (hour, minute string) {
	c, ok := ResolveTime(raw)
	if !ok {
		return "", ""
	}
	return fmt.Sprintf("%02d", c.Hour), fmt.Sprintf("%02d", c.Minute)
}

func resolveCompact(phrase string) (Clock, bool) {
	m := compactPattern.FindStringSubmatch(phrase)
	if m == nil {
		return Clock{}, false
	}
	return clock24(m[1], m[2])
}

func resolveSeparated(phrase string) (Clock, bool) {
	m := separatedPattern.FindStringSubmatch(phrase)
	if m == nil {
		return Clock{}, false
	}
	return clock24(m[1], m[2])
}

func resolveMeridiem(phrase string) (Clock, bool) {
	m := meridiemPattern.FindStringSubmatch(phrase)
	if m == nil {
		return Clock{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	return clock12(hour, minute, strings.HasPrefix(m[3], "p"))
}

// resolveDigitMeridiemWords handles a digit hour followed by a half-of-day
// phrase, as in "10 in the morning" or "7:30 in the evening".
func resolveDigitMeridiemWords(phrase string) (Clock, bool) {
	m := digitHourPattern.FindStringSubmatch(phrase)
	if m == nil {
		return Clock{}, false
	}
	pm, found := meridiemWords(strings.FieldsFunc(m[3], isSeparator))
	if !found {
		return Clock{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	return clock12(hour, minute, pm)
}

// resolveFraction handles "half past nine", "quarter past 2 pm" and
// "quarter to three". Without a half-of-day marker the hour is read as
// spoken, like "three thirty".
func resolveFraction(phrase string) (Clock, bool) {
	tokens := strings.FieldsFunc(phrase, isSeparator)

	for i := 0; i+2 < len(tokens); i++ {
		var offset int
		switch {
		case tokens[i] == "half" && tokens[i+1] == "past":
			offset = 30
		case tokens[i] == "quarter" && tokens[i+1] == "past":
			offset = 15
		case tokens[i] == "quarter" && tokens[i+1] == "to":
			offset = -15
		default:
			continue
		}

		hourTok, rest := tokens[i+2], tokens[i+3:]
		// "2pm" arrives as one token.
		if m := attachedMeridiem.FindStringSubmatch(hourTok); m != nil {
			hourTok, rest = m[1], append([]string{m[2]}, rest...)
		}
		hour, ok := twelveHour(hourTok)
		if !ok {
			return Clock{}, false
		}
		if hasPrefixTokens(rest, "o'clock") || hasPrefixTokens(rest, "oclock") {
			rest = rest[1:]
		}

		pm, found := meridiemWords(rest)
		if !found {
			if offset < 0 {
				// "quarter to one" is 12:45.
				hour = (hour+10)%12 + 1
				return Clock{Hour: hour, Minute: 45}, true
			}
			return Clock{Hour: hour, Minute: offset}, true
		}

		base, _ := clock12(hour, 0, pm)
		minutes := (base.Hour*60 + offset + 24*60) % (24 * 60)
		return Clock{Hour: minutes / 60, Minute: minutes % 60}, true
	}
	return Clock{}, false
}

// twelveHour reads a 1-12 hour written as a word or in digits.
func twelveHour(tok string) (int, bool) {
	if h, ok := hourWords[tok]; ok {
		return h, true
	}
	if !hourPattern.MatchString(tok) {
		return 0, false
	}
	h, _ := strconv.Atoi(tok)
	if h < 1 || h > 12 {
		return 0, false
	}
	return h, true
}

func resolveEmbeddedClock(phrase string) (Clock, bool) {
	m := clockPattern.FindStringSubmatch(phrase)
	if m == nil {
		return Clock{}, false
	}
	return clock24(m[1], m[2])
}

func resolveBareHour(phrase string) (Clock, bool) {
	m := hourPattern.FindStringSubmatch(phrase)
	if m == nil {
		return Clock{}, false
	}
	return clock24(m[1], "0")
}

func resolveNamedTime(phrase string) (Clock, bool) {
	switch {
	case containsWords(phrase, "noon"), containsWords(phrase, "midday"):
		return Clock{12, 0}, true
	case containsWords(phrase, "midnight"):
		return Clock{0, 0}, true
	}
	return Clock{}, false
}

// resolveNumberWords handles phrases like "three thirty pm", "ten o'clock"
// and "seven in the evening". A bare number word is not enough; it must be
// combined with a minute word, o'clock or a half-of-day marker.
func resolveNumberWords(phrase string) (Clock, bool) {
	tokens := strings.FieldsFunc(strings.ReplaceAll(phrase, "o'clock", "oclock"), isSeparator)

	for i, tok := range tokens {
		hour, ok := hourWords[tok]
		if !ok {
			continue
		}
		rest := tokens[i+1:]

		minute, qualified := 0, false
		switch {
		case hasPrefixTokens(rest, "forty", "five"):
			minute, qualified, rest = 45, true, rest[2:]
		case hasPrefixTokens(rest, "fortyfive"):
			minute, qualified, rest = 45, true, rest[1:]
		case hasPrefixTokens(rest, "thirty"):
			minute, qualified, rest = 30, true, rest[1:]
		case hasPrefixTokens(rest, "fifteen"):
			minute, qualified, rest = 15, true, rest[1:]
		case hasPrefixTokens(rest, "oclock"):
			qualified, rest = true, rest[1:]
		}

		if pm, found := meridiemWords(rest); found {
			return clock12(hour, minute, pm)
		}
		if qualified {
			return Clock{Hour: hour, Minute: minute}, true
		}
	}
	return Clock{}, false
}

// meridiemWords looks for an am/pm marker at the start of tokens, spelled
// either as am/pm or as a half-of-day phrase.
func meridiemWords(tokens []string) (pm bool, found bool) {
	switch {
	case hasPrefixTokens(tokens, "am"), hasPrefixTokens(tokens, "a", "m"):
		return false, true
	case hasPrefixTokens(tokens, "pm"), hasPrefixTokens(tokens, "p", "m"):
		return true, true
	case hasPrefixTokens(tokens, "in", "the", "morning"):
		return false, true
	case hasPrefixTokens(tokens, "in", "the", "afternoon"),
		hasPrefixTokens(tokens, "in", "the", "evening"),
		hasPrefixTokens(tokens, "at", "night"),
		hasPrefixTokens(tokens, "tonight"):
		return true, true
	}
	return false, false
}

func resolvePeriodOfDay(phrase string) (Clock, bool) {
	for _, p := range periodsOfDay {
		if containsWords(phrase, p.phrase) {
			return p.clock, true
		}
	}
	return Clock{}, false
}

func clock24(hourDigits, minuteDigits string) (Clock, bool) {
	hour, err := strconv.Atoi(hourDigits)
	if err != nil {
		return Clock{}, false
	}
	minute, err := strconv.Atoi(minuteDigits)
	if err != nil {
		return Clock{}, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, false
	}
	return Clock{Hour: hour, Minute: minute}, true
}

// clock12 converts a 12-hour reading; 12pm is noon and 12am is midnight.
func clock12(hour, minute int, pm bool) (Clock, bool) {
	if hour < 1 || hour > 12 || minute < 0 || minute > 59 {
		return Clock{}, false
	}
	hour %= 12
	if pm {
		hour += 12
	}
	return Clock{Hour: hour, Minute: minute}, true
}

func hasPrefixTokens(tokens []string, prefix ...string) bool {
	if len(tokens) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if tokens[i] != p {
			return false
		}
	}
	return true
}

func normalizeTime(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", "a.m", "am", "p.m", "pm").Replace(s)
	s = strings.Trim(s, ",;!?\"'")
	s = strings.TrimSuffix(s, ".")
	s = strings.Join(strings.Fields(s), " ")
	for _, prefix := range fillerPrefixes {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, " hrs")
	s = strings.TrimSuffix(s, " hours")
	return s
}
