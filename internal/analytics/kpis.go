package analytics

import "time"

// Headline KPI calculations for the dashboard. All operate on an
// already-filtered normalized table and take now explicitly so callers
// and tests control the reference point.

// DistanceThisWeek sums distance for the calendar week containing now,
// Monday through Sunday.
func DistanceThisWeek(table Table, now time.Time) float64 {
	weekStart := TruncateToWeek(now)
	weekEnd := weekStart.AddDate(0, 0, 7)

	var total float64
	for _, a := range table {
		if a.Date.Before(weekStart) || !a.Date.Before(weekEnd) {
			continue
		}
		total += a.DistanceKm
	}
	return total
}

// DistanceThisMonth sums distance from the start of now's month up to now.
func DistanceThisMonth(table Table, now time.Time) float64 {
	return distanceBetween(table, TruncateToMonth(now), now)
}

// DistanceThisYear sums year-to-date distance.
func DistanceThisYear(table Table, now time.Time) float64 {
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	return distanceBetween(table, yearStart, now)
}

func distanceBetween(table Table, from, to time.Time) float64 {
	var total float64
	for _, a := range table {
		if a.Date.Before(from) || a.Date.After(to) {
			continue
		}
		total += a.DistanceKm
	}
	return total
}

// CountActivities returns the number of activities in the table.
func CountActivities(table Table) int {
	return len(table)
}
