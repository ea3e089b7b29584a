package analytics

import "time"

// Filter returns the rows of table within the given date range and sport
// type. Zero time bounds and an empty sport mean no constraint on that
// dimension. The input table is never modified.
func Filter(table Table, from, to time.Time, sportType string) Table {
	out := make(Table, 0, len(table))
	for _, a := range table {
		if !from.IsZero() && a.Date.Before(from) {
			continue
		}
		if !to.IsZero() && a.Date.After(to) {
			continue
		}
		if sportType != "" && a.SportType != sportType {
			continue
		}
		out = append(out, a)
	}
	return out
}
