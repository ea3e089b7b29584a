package analytics

import (
	"sort"
	"strconv"
	"time"
)

// Period selects the key column for key-based aggregation.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

var validPeriods = []string{string(PeriodWeek), string(PeriodMonth), string(PeriodYear)}

// PeriodSummary is one aggregate row: all activities sharing a period key.
// AvgPaceMinPerKm covers running activities with defined pace only, and is
// nil when the group has none. An empty average is never reported as 0.
type PeriodSummary struct {
	Period          string   `json:"period"`
	TotalDistanceKm float64  `json:"total_distance_km"`
	ActivityCount   int      `json:"activity_count"`
	AvgPaceMinPerKm *float64 `json:"avg_pace_min_per_km,omitempty"`
}

// AggregateByPeriod groups a normalized table by week, month or year key
// and produces one summary row per key present in the input. Row order is
// ascending for year (chronological trend) and descending for week and
// month (most recent first).
func AggregateByPeriod(table Table, period Period) ([]PeriodSummary, error) {
	var keyOf func(Activity) string
	switch period {
	case PeriodWeek:
		keyOf = func(a Activity) string { return a.YearWeek }
	case PeriodMonth:
		keyOf = func(a Activity) string { return a.YearMonth }
	case PeriodYear:
		keyOf = func(a Activity) string { return strconv.Itoa(a.Year) }
	default:
		return nil, &InvalidPeriodError{Period: string(period), Valid: validPeriods}
	}

	type accumulator struct {
		distanceKm float64
		count      int
		paceSum    float64
		paceCount  int
	}

	groups := make(map[string]*accumulator)
	for _, a := range table {
		key := keyOf(a)
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{}
			groups[key] = acc
		}
		acc.distanceKm += a.DistanceKm
		acc.count++
		if a.SportType == "Run" && a.PaceMinPerKm != nil {
			acc.paceSum += *a.PaceMinPerKm
			acc.paceCount++
		}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	if period == PeriodYear {
		sort.Strings(keys)
	} else {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}

	summaries := make([]PeriodSummary, 0, len(keys))
	for _, key := range keys {
		acc := groups[key]
		summary := PeriodSummary{
			Period:          key,
			TotalDistanceKm: acc.distanceKm,
			ActivityCount:   acc.count,
		}
		if acc.paceCount > 0 {
			avg := acc.paceSum / float64(acc.paceCount)
			summary.AvgPaceMinPerKm = &avg
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// Granularity selects the bucket size for calendar truncation.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

var validGranularities = []string{string(GranularityDay), string(GranularityWeek), string(GranularityMonth)}

// CalendarBucket is one aggregate row of the truncation mode: the bucket
// key is the literal start instant of the containing calendar bucket,
// which lets callers plot on a temporal axis instead of opaque labels.
type CalendarBucket struct {
	BucketStart     time.Time `json:"bucket_start"`
	TotalDistanceKm float64   `json:"total_distance_km"`
	ActivityCount   int       `json:"activity_count"`
}

// AggregateByCalendar truncates each activity's date to the start of its
// containing day, week (Monday start) or month, then sums distance and
// counts activities per bucket. Only buckets with activities appear, in
// ascending time order. Pace is not averaged here.
func AggregateByCalendar(table Table, granularity Granularity) ([]CalendarBucket, error) {
	var truncate func(time.Time) time.Time
	switch granularity {
	case GranularityDay:
		truncate = TruncateToDay
	case GranularityWeek:
		truncate = TruncateToWeek
	case GranularityMonth:
		truncate = TruncateToMonth
	default:
		return nil, &InvalidPeriodError{Period: string(granularity), Valid: validGranularities}
	}

	type accumulator struct {
		start      time.Time
		distanceKm float64
		count      int
	}

	// Keyed by epoch seconds: time.Time values are not reliable map keys
	// when locations differ.
	groups := make(map[int64]*accumulator)
	for _, a := range table {
		start := truncate(a.Date)
		key := start.Unix()
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{start: start}
			groups[key] = acc
		}
		acc.distanceKm += a.DistanceKm
		acc.count++
	}

	buckets := make([]CalendarBucket, 0, len(groups))
	for _, acc := range groups {
		buckets = append(buckets, CalendarBucket{
			BucketStart:     acc.start,
			TotalDistanceKm: acc.distanceKm,
			ActivityCount:   acc.count,
		})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].BucketStart.Before(buckets[j].BucketStart)
	})

	return buckets, nil
}
