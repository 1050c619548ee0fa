// Package availability filters listings by month-level date overlap.
package availability

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/subletmap/subletmap/internal/dates"
	"github.com/subletmap/subletmap/internal/model"
)

// AllMonths is the sentinel month key that disables filtering.
const AllMonths = "all"

// Window is a listing's derived availability range [Start, End). End defaults
// to one calendar month after Start when the duration is absent or
// unparseable.
type Window struct {
	Start time.Time
	End   time.Time
}

// ListingWindow computes the availability window from a listing's start and
// duration fields. ok is false when the start date does not parse, in which
// case the listing is flexible and has no window to compare.
func ListingWindow(l model.Listing) (Window, bool) {
	start, ok := dates.Parse(l.Start)
	if !ok {
		return Window{}, false
	}
	months := dates.ParseDurationMonths(l.Duration)
	// Month-field arithmetic, matching the sheet's coarse semantics:
	// fractional month remainders truncate rather than spilling into days.
	end := start.AddDate(0, int(months), 0)
	return Window{Start: start, End: end}, true
}

// OverlapsMonth reports whether the listing's availability window overlaps
// the target month. monthKey is YYYY-MM or AllMonths.
//
// Listings whose start date fails to parse are flexible: they are excluded
// under any specific month and only appear under AllMonths. This is policy,
// not a parse bug — a flexible listing has no window to test.
func OverlapsMonth(l model.Listing, monthKey string) bool {
	if monthKey == "" || monthKey == AllMonths {
		return true
	}

	// "Contact for availability" listings are exempt from date-based
	// exclusion; their real window is whatever the lister says it is.
	if l.AskOnly() {
		return true
	}

	monthStart, monthEnd, ok := monthBounds(monthKey)
	if !ok {
		return false
	}

	w, ok := ListingWindow(l)
	if !ok {
		return false
	}

	// Inclusive overlap at month granularity:
	// start <= monthEnd && end >= monthStart.
	return !w.Start.After(monthEnd) && !w.End.Before(monthStart)
}

// FilterByMonth returns the listings overlapping monthKey, preserving input
// order.
func FilterByMonth(listings []model.Listing, monthKey string) []model.Listing {
	if len(listings) == 0 {
		return nil
	}
	if monthKey == "" || monthKey == AllMonths {
		out := make([]model.Listing, len(listings))
		copy(out, listings)
		return out
	}
	var out []model.Listing
	for _, l := range listings {
		if OverlapsMonth(l, monthKey) {
			out = append(out, l)
		}
	}
	return out
}

// Months returns the sorted distinct YYYY-MM start-month keys across the
// listings, for the month-picker UI. Flexible listings contribute no key.
func Months(listings []model.Listing) []string {
	seen := make(map[string]struct{})
	for _, l := range listings {
		key := dates.StartMonthKey(l.Start)
		if key == dates.FlexibleGroup {
			continue
		}
		seen[key] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// monthBounds returns the first and last day of a YYYY-MM month key.
func monthBounds(key string) (start, end time.Time, ok bool) {
	parts := strings.SplitN(key, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, false
	}
	year, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		return time.Time{}, time.Time{}, false
	}
	start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end, true
}
