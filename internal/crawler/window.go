package crawler

import (
	"fmt"
	"time"
)

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYYMMDD or YYYY-MM-DD date.
func ParseDay(raw string) (time.Time, error) {
	for _, layout := range []string{DayLayout, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse date %q: want YYYYMMDD or YYYY-MM-DD", raw)
}

// PartitionWindows splits [from, to] into search windows. A stride of one day
// or less yields single-day windows. A longer stride yields windows
// [t, t+stride] that share their boundary day with the next window, so items
// posted on a boundary day surface twice and rely on the DuplicateIndex.
func PartitionWindows(from, to time.Time, strideDays int) []DateWindow {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return nil
	}
	var out []DateWindow
	if strideDays <= 1 {
		for t := from; !t.After(to); t = t.AddDate(0, 0, 1) {
			out = append(out, DateWindow{From: t, To: t})
		}
		return out
	}
	for t := from; !t.After(to); t = t.AddDate(0, 0, strideDays) {
		end := t.AddDate(0, 0, strideDays)
		if end.After(to) {
			end = to
		}
		out = append(out, DateWindow{From: t, To: end})
	}
	return out
}

// BlogWindows splits [from, to] into non-overlapping windows of days+1
// calendar days; each window starts the day after the previous one ends.
func BlogWindows(from, to time.Time, days int) []DateWindow {
	from, to = Day(from), Day(to)
	if days < 0 {
		days = 0
	}
	var out []DateWindow
	for start := from; !start.After(to); {
		end := start.AddDate(0, 0, days)
		if end.After(to) {
			end = to
		}
		out = append(out, DateWindow{From: start, To: end})
		start = end.AddDate(0, 0, 1)
	}
	return out
}
