// Package dates parses the spreadsheet's free-text date and duration fields.
//
// The sheet uses day-first dates (DD/MM/YY or DD/MM/YYYY) and loose duration
// strings like "2 weeks" or "10 nights". Parse failures are never errors:
// callers treat an unparseable start date as "flexible" and an unparseable
// duration as one month.
package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Approximate calendar conversions used for duration arithmetic.
const (
	weeksPerMonth = 4.33
	daysPerMonth  = 30.44
)

// Parse parses a day-first date string. The boolean is false when the input
// does not split into exactly three numeric parts or the day/month values are
// not sane. Two-digit years are interpreted as 2000+YY.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	day, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	month, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	year, err3 := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if day < 1 || day > 31 || month < 1 || month > 12 || year < 0 {
		return time.Time{}, false
	}
	if year < 100 {
		year += 2000
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// ParseDurationMonths converts a free-text duration to an approximate month
// count. Unit tokens are matched as case-insensitive substrings in priority
// order week, month, year, night, day; the first match wins. Returns 1 when
// no unit is recognized — a conservative default, not a failure.
func ParseDurationMonths(s string) float64 {
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return 1
	}

	n := leadingNumber(text)

	switch {
	case strings.Contains(text, "week"):
		if n == 0 {
			n = 1
		}
		return n / weeksPerMonth
	case strings.Contains(text, "month"):
		if n == 0 {
			n = 1
		}
		return n
	case strings.Contains(text, "year"):
		if n == 0 {
			n = 1
		}
		return n * 12
	case strings.Contains(text, "night"):
		if n == 0 {
			n = 1
		}
		return n / daysPerMonth
	case strings.Contains(text, "day"):
		if n == 0 {
			n = 30
		}
		return n / daysPerMonth
	}
	return 1
}

// leadingNumber extracts the first numeric token, mirroring parseFloat on the
// raw duration text ("2 weeks" -> 2, "1.5 months" -> 1.5).
func leadingNumber(s string) float64 {
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return n
}

// FormatReadable renders a parseable date as "4th April 2025". Unparseable
// input is returned unchanged; empty input becomes the "Available"
// placeholder shown for flexible listings.
func FormatReadable(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Available"
	}
	t, ok := Parse(s)
	if !ok {
		return s
	}
	return fmt.Sprintf("%d%s %s %d", t.Day(), ordinalSuffix(t.Day()), t.Month().String(), t.Year())
}

func ordinalSuffix(n int) string {
	if n >= 11 && n <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// FormatPopup renders the compact "Apr 2025 • 2 months" line used by the
// marker popups. Empty start dates read as "Flexible dates".
func FormatPopup(start, duration string) string {
	if strings.TrimSpace(start) == "" {
		return "Flexible dates"
	}
	t, ok := Parse(start)
	if !ok {
		return start
	}
	out := fmt.Sprintf("%s %d", t.Month().String()[:3], t.Year())
	if d := strings.TrimSpace(duration); d != "" {
		out += " • " + d
	}
	return out
}

// MonthKey formats t as the YYYY-MM key used by the month filter.
func MonthKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// FlexibleGroup is the grouping key for listings without a parseable start.
const FlexibleGroup = "FLEXIBLE"

// StartMonthKey returns the YYYY-MM key of a listing's start date, or
// FlexibleGroup when the start is absent or unparseable.
func StartMonthKey(start string) string {
	t, ok := Parse(start)
	if !ok {
		return FlexibleGroup
	}
	return MonthKey(t)
}

// MonthName returns the uppercase three-letter name for a 1-based month
// number, or "UNK" out of range.
func MonthName(n int) string {
	if n < 1 || n > 12 {
		return "UNK"
	}
	return strings.ToUpper(time.Month(n).String()[:3])
}
