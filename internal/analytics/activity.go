// Package analytics turns raw Strava activity records into a normalized
// analytical table and rolls that table up into time-bucketed summaries.
// Everything in this package is a pure function over its inputs: no I/O,
// no shared state, safe to call concurrently on independent tables.
package analytics

import "time"

// RawActivity is a single untrusted activity record as decoded from the
// upstream API. Fields may be absent or carry unexpected types; accessors
// report presence explicitly instead of panicking.
type RawActivity map[string]any

// str returns the string value for key, reporting whether it was present.
func (r RawActivity) str(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// num returns the numeric value for key. JSON decoding yields float64 for
// all numbers, but records assembled in code may carry int values too.
func (r RawActivity) num(key string) (float64, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Activity is one normalized row of the analytical table. Optional fields
// are pointers: nil means the value is undefined for this activity, which
// is distinct from zero.
type Activity struct {
	Date           time.Time `json:"date"`
	SportType      string    `json:"sport_type"`
	Name           string    `json:"name"`
	DistanceKm     float64   `json:"distance_km"`
	MovingTime     int       `json:"moving_time"`
	ElapsedTime    *int      `json:"elapsed_time,omitempty"`
	AverageSpeed   *float64  `json:"average_speed,omitempty"`
	PaceSPerKm     *float64  `json:"pace_s_per_km,omitempty"`
	PaceMinPerKm   *float64  `json:"pace_min_per_km,omitempty"`
	Year           int       `json:"year"`
	YearWeek       string    `json:"year_week"`
	YearMonth      string    `json:"year_month"`
	DistanceBucket string    `json:"distance_bucket"`
}

// Table is an ordered sequence of normalized activities. Order follows the
// input batch; callers needing chronological order sort explicitly.
type Table []Activity
