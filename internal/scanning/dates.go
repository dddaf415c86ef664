package scanning

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	dateCandidate = regexp.MustCompile(`\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4}[^\n]{0,20}`)
	shortDateTime = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{2})\s+(\d{2}):(\d{2})`)
	longDate      = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})`)

	leadingDate   = regexp.MustCompile(`^(\d{1,2})[./\-](\d{1,2})[./\-](\d{2,4})\b`)
	nonDateChars  = regexp.MustCompile(`[^0-9./:\- ]+`)
	repeatedSpace = regexp.MustCompile(`\s{2,}`)
)

// extractDate tries the natural parser on every date-looking snippet, then
// the DD.MM.YY HH:MM layout, then DD.MM.YYYY at noon. Dates carry no zone
// and are stored as UTC wall-clock values.
func extractDate(text string, parser DateParser) *time.Time {
	if parser != nil {
		for _, candidate := range dateCandidate.FindAllString(text, -1) {
			if t, ok := parser.ParseDate(candidate); ok {
				return &t
			}
		}
	}

	if m := shortDateTime.FindStringSubmatch(text); m != nil {
		year := atoi("20" + m[3])
		if t, ok := civilTime(year, atoi(m[2]), atoi(m[1]), atoi(m[4]), atoi(m[5])); ok {
			return &t
		}
	}

	if m := longDate.FindStringSubmatch(text); m != nil {
		if t, ok := civilTime(atoi(m[3]), atoi(m[2]), atoi(m[1]), 12, 0); ok {
			return &t
		}
	}
	return nil
}

// civilTime builds a UTC time and rejects values time.Date would normalize,
// such as 31.02.
func civilTime(year, month, day, hour, minute int) (time.Time, bool) {
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day || t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// NaturalDates parses free-form date snippets day-first. It applies no
// plausibility bound of its own so that it agrees with the fixed-layout
// fallbacks in extractDate.
type NaturalDates struct{}

// ParseDate implements DateParser. Trailing words that confuse the parser are
// dropped one at a time until the snippet parses or only the date is left.
func (NaturalDates) ParseDate(candidate string) (time.Time, bool) {
	s, day, month := normalizeDateCandidate(candidate)
	for s != "" {
		t, err := dateparse.ParseIn(s, time.UTC, dateparse.PreferMonthFirst(false))
		if err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
			// Day-first is not negotiable on German receipts.
			if t.Day() != day || int(t.Month()) != month {
				return time.Time{}, false
			}
			return t, true
		}
		i := strings.LastIndexByte(s, ' ')
		if i < 0 {
			break
		}
		s = strings.TrimRight(s[:i], " -")
	}
	return time.Time{}, false
}

// normalizeDateCandidate strips separators such as "·", rewrites the leading
// date as DD/MM/YYYY and collapses whitespace. It also returns the day and
// month as printed.
func normalizeDateCandidate(s string) (string, int, int) {
	s = nonDateChars.ReplaceAllString(s, " ")
	s = repeatedSpace.ReplaceAllString(strings.TrimSpace(s), " ")

	m := leadingDate.FindStringSubmatch(s)
	if m == nil {
		return "", 0, 0
	}
	year := m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	s = m[1] + "/" + m[2] + "/" + year + s[len(m[0]):]
	return s, atoi(m[1]), atoi(m[2])
}
