package analytics

import "time"

// HistoryWindowDays is the fixed retention window: activities older than
// this many days at normalization time are dropped. Hard-coded policy,
// not configurable.
const HistoryWindowDays = 730

// dateFields lists the recognized date keys in preference order.
var dateFields = []string{"start_date_local", "start_date"}

// dateLayouts are the accepted timestamp formats. Strava reports RFC 3339;
// the naive layout covers local timestamps without a zone designator.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

// Normalize converts a batch of raw activity records into the canonical
// analytical table, evaluating the retention window against the wall
// clock. See NormalizeAt for the policies applied.
func Normalize(records []RawActivity) (Table, error) {
	return NormalizeAt(records, time.Now())
}

// NormalizeAt normalizes records with the retention window anchored at
// now. One output row is produced per usable input record, in input
// order. Per-row policies:
//
//   - the date comes from start_date_local, falling back to start_date;
//   - activities older than HistoryWindowDays before now are dropped;
//   - distance_km is distance/1000, with missing distance treated as 0;
//   - pace is computed only when distance_km > 0, and is left undefined
//     (nil) otherwise, never zero;
//   - year, year_week, year_month and the distance bucket are derived
//     deterministically from the date and distance.
//
// Missing optional fields degrade row-locally and never abort the batch.
// The only fatal condition is a non-empty batch in which no record
// carries a recognized date field at all; that returns a
// *MissingFieldError and no partial output.
func NormalizeAt(records []RawActivity, now time.Time) (Table, error) {
	cutoff := now.AddDate(0, 0, -HistoryWindowDays)

	table := make(Table, 0, len(records))
	sawDateField := false

	for _, rec := range records {
		date, hasField, ok := extractDate(rec)
		if hasField {
			sawDateField = true
		}
		if !ok {
			// No usable date on this record; it cannot be placed in
			// time, so it falls out the same way the window filter
			// drops out-of-range rows.
			continue
		}
		if date.Before(cutoff) {
			continue
		}

		act := Activity{
			Date:      date,
			Year:      date.Year(),
			YearWeek:  isoWeekKey(date),
			YearMonth: monthKey(date),
		}

		if sport, ok := rec.str("sport_type"); ok {
			act.SportType = sport
		}
		if name, ok := rec.str("name"); ok {
			act.Name = name
		}

		if meters, ok := rec.num("distance"); ok {
			act.DistanceKm = meters / 1000.0
		}
		if secs, ok := rec.num("moving_time"); ok {
			act.MovingTime = int(secs)
		}
		if secs, ok := rec.num("elapsed_time"); ok {
			elapsed := int(secs)
			act.ElapsedTime = &elapsed
		}
		if speed, ok := rec.num("average_speed"); ok {
			avg := speed
			act.AverageSpeed = &avg
		}

		if act.DistanceKm > 0 {
			sPerKm := float64(act.MovingTime) / act.DistanceKm
			minPerKm := sPerKm / 60.0
			act.PaceSPerKm = &sPerKm
			act.PaceMinPerKm = &minPerKm
		}

		act.DistanceBucket = DistanceBucket(act.DistanceKm, act.SportType)

		table = append(table, act)
	}

	if !sawDateField && len(records) > 0 {
		return nil, &MissingFieldError{Fields: dateFields}
	}

	return table, nil
}

// extractDate pulls the activity timestamp from a raw record. hasField
// reports whether any recognized date key was present (regardless of
// parseability); ok reports whether a timestamp was actually obtained.
func extractDate(rec RawActivity) (t time.Time, hasField, ok bool) {
	for _, field := range dateFields {
		v, exists := rec[field]
		if !exists {
			continue
		}
		hasField = true
		raw, isString := v.(string)
		if !isString {
			continue
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return parsed, true, true
			}
		}
	}
	return time.Time{}, hasField, false
}
