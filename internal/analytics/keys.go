package analytics

import (
	"fmt"
	"time"
)

// Calendar key derivation. Keys are strings chosen so that lexicographic
// order matches chronological order: "2024-W09" < "2024-W10" and
// "2024-02" < "2024-11". Two dates in the same ISO week (or month) always
// produce identical keys.

// isoWeekKey returns a key unique per (ISO year, ISO week) pair, e.g.
// "2024-W05". Note the ISO year can differ from the calendar year around
// new year boundaries.
func isoWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// monthKey returns a key unique per (year, month) pair, e.g. "2024-05".
func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

// TruncateToDay returns midnight of t's calendar day, preserving location.
func TruncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TruncateToWeek returns midnight of the Monday starting t's week.
// Weeks start on Monday, matching the ISO convention used for week keys.
func TruncateToWeek(t time.Time) time.Time {
	day := TruncateToDay(t)
	// time.Weekday puts Sunday at 0; shift so Monday is 0.
	sinceMonday := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -sinceMonday)
}

// TruncateToMonth returns midnight of the first day of t's month.
func TruncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
