package analytics

import (
	"math"
	"testing"
	"time"
)

// kpiNow is a Thursday; the containing week runs Mon 2024-05-13 through
// Sun 2024-05-19.
var kpiNow = time.Date(2024, 5, 16, 12, 0, 0, 0, time.UTC)

func kpiTable() Table {
	return Table{
		{Date: time.Date(2024, 5, 14, 7, 0, 0, 0, time.UTC), DistanceKm: 5},   // this week
		{Date: time.Date(2024, 5, 13, 6, 0, 0, 0, time.UTC), DistanceKm: 3},   // Monday of this week
		{Date: time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC), DistanceKm: 10},   // this month, earlier week
		{Date: time.Date(2024, 2, 10, 7, 0, 0, 0, time.UTC), DistanceKm: 21},  // this year, earlier month
		{Date: time.Date(2023, 11, 20, 7, 0, 0, 0, time.UTC), DistanceKm: 42}, // previous year
	}
}

func TestDistanceThisWeek(t *testing.T) {
	got := DistanceThisWeek(kpiTable(), kpiNow)
	if math.Abs(got-8) > 1e-9 {
		t.Errorf("DistanceThisWeek = %f, want 8", got)
	}
}

func TestDistanceThisWeekExcludesNextMonday(t *testing.T) {
	table := Table{
		{Date: time.Date(2024, 5, 19, 23, 0, 0, 0, time.UTC), DistanceKm: 4}, // Sunday, in
		{Date: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), DistanceKm: 9},  // next Monday, out
	}
	got := DistanceThisWeek(table, kpiNow)
	if math.Abs(got-4) > 1e-9 {
		t.Errorf("DistanceThisWeek = %f, want 4", got)
	}
}

func TestDistanceThisMonth(t *testing.T) {
	got := DistanceThisMonth(kpiTable(), kpiNow)
	if math.Abs(got-18) > 1e-9 {
		t.Errorf("DistanceThisMonth = %f, want 18", got)
	}
}

func TestDistanceThisYear(t *testing.T) {
	got := DistanceThisYear(kpiTable(), kpiNow)
	if math.Abs(got-39) > 1e-9 {
		t.Errorf("DistanceThisYear = %f, want 39", got)
	}
}

func TestKPIsOnEmptyTable(t *testing.T) {
	if got := DistanceThisWeek(nil, kpiNow); got != 0 {
		t.Errorf("DistanceThisWeek on empty table = %f", got)
	}
	if got := DistanceThisMonth(nil, kpiNow); got != 0 {
		t.Errorf("DistanceThisMonth on empty table = %f", got)
	}
	if got := DistanceThisYear(nil, kpiNow); got != 0 {
		t.Errorf("DistanceThisYear on empty table = %f", got)
	}
	if got := CountActivities(nil); got != 0 {
		t.Errorf("CountActivities on empty table = %d", got)
	}
}

func TestCountActivities(t *testing.T) {
	if got := CountActivities(kpiTable()); got != 5 {
		t.Errorf("CountActivities = %d, want 5", got)
	}
}
