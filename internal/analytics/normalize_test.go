package analytics

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

var testNow = time.Date(2024, 5, 16, 12, 0, 0, 0, time.UTC)

func rawRun(date string, meters float64, movingTime int) RawActivity {
	return RawActivity{
		"start_date_local": date,
		"distance":         meters,
		"moving_time":      float64(movingTime),
		"sport_type":       "Run",
		"name":             "Test Run",
	}
}

func TestNormalizeBasicRow(t *testing.T) {
	records := []RawActivity{
		{
			"start_date_local": "2024-05-14T07:30:00Z",
			"distance":         5000.0,
			"moving_time":      1800.0,
			"elapsed_time":     1900.0,
			"average_speed":    2.78,
			"sport_type":       "Run",
			"name":             "Morning Run",
		},
	}

	table, err := NormalizeAt(records, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table) != 1 {
		t.Fatalf("expected 1 row, got %d", len(table))
	}

	a := table[0]
	if a.DistanceKm != 5.0 {
		t.Errorf("expected distance 5.0 km, got %f", a.DistanceKm)
	}
	if a.MovingTime != 1800 {
		t.Errorf("expected moving time 1800, got %d", a.MovingTime)
	}
	if a.ElapsedTime == nil || *a.ElapsedTime != 1900 {
		t.Errorf("expected elapsed time 1900, got %v", a.ElapsedTime)
	}
	if a.AverageSpeed == nil || *a.AverageSpeed != 2.78 {
		t.Errorf("expected average speed 2.78, got %v", a.AverageSpeed)
	}
	if a.PaceSPerKm == nil || *a.PaceSPerKm != 360 {
		t.Errorf("expected pace 360 s/km, got %v", a.PaceSPerKm)
	}
	if a.PaceMinPerKm == nil || *a.PaceMinPerKm != 6 {
		t.Errorf("expected pace 6 min/km, got %v", a.PaceMinPerKm)
	}
	if a.Year != 2024 {
		t.Errorf("expected year 2024, got %d", a.Year)
	}
	if a.YearWeek != "2024-W20" {
		t.Errorf("expected year_week 2024-W20, got %s", a.YearWeek)
	}
	if a.YearMonth != "2024-05" {
		t.Errorf("expected year_month 2024-05, got %s", a.YearMonth)
	}
	if a.DistanceBucket != "5-10K" {
		t.Errorf("expected bucket 5-10K, got %s", a.DistanceBucket)
	}
	if a.SportType != "Run" || a.Name != "Morning Run" {
		t.Errorf("expected passthrough sport/name, got %s/%s", a.SportType, a.Name)
	}
}

func TestNormalizeDistanceRoundTrip(t *testing.T) {
	distances := []float64{1.0, 5000.5, 42195.0, 160934.4}
	records := make([]RawActivity, 0, len(distances))
	for _, d := range distances {
		records = append(records, rawRun("2024-05-14T07:30:00Z", d, 1000))
	}

	table, err := NormalizeAt(records, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, a := range table {
		if math.Abs(a.DistanceKm*1000-distances[i]) > 1e-9 {
			t.Errorf("row %d: distance_km*1000 = %f, want %f", i, a.DistanceKm*1000, distances[i])
		}
	}
}

func TestNormalizeHistoryWindow(t *testing.T) {
	tests := []struct {
		name     string
		daysAgo  int
		included bool
	}{
		{"729 days old is included", 729, true},
		{"731 days old is excluded", 731, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date := testNow.AddDate(0, 0, -tt.daysAgo).Format(time.RFC3339)
			table, err := NormalizeAt([]RawActivity{rawRun(date, 5000, 1800)}, testNow)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := len(table) == 1; got != tt.included {
				t.Errorf("included = %v, want %v", got, tt.included)
			}
		})
	}
}

func TestNormalizeDateFallback(t *testing.T) {
	records := []RawActivity{
		{
			"start_date": "2024-05-14T07:30:00Z",
			"distance":   3000.0,
			"sport_type": "Run",
		},
	}

	table, err := NormalizeAt(records, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table) != 1 {
		t.Fatalf("expected 1 row from start_date fallback, got %d", len(table))
	}
}

func TestNormalizeNaiveTimestamp(t *testing.T) {
	table, err := NormalizeAt([]RawActivity{rawRun("2024-05-14T07:30:00", 5000, 1800)}, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table) != 1 {
		t.Fatalf("expected 1 row, got %d", len(table))
	}
	if table[0].Date.Hour() != 7 || table[0].Date.Minute() != 30 {
		t.Errorf("unexpected parsed time: %v", table[0].Date)
	}
}

func TestNormalizeMissingDateEverywhere(t *testing.T) {
	records := []RawActivity{
		{"distance": 5000.0, "sport_type": "Run"},
		{"distance": 3000.0, "sport_type": "Ride"},
	}

	_, err := NormalizeAt(records, testNow)
	if err == nil {
		t.Fatal("expected error for batch with no date fields")
	}
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingFieldError, got %T: %v", err, err)
	}
	if len(missing.Fields) != 2 {
		t.Errorf("expected 2 expected fields named, got %v", missing.Fields)
	}
}

func TestNormalizeMissingDistanceDegrades(t *testing.T) {
	records := []RawActivity{
		{
			"start_date_local": "2024-05-14T07:30:00Z",
			"moving_time":      1800.0,
			"sport_type":       "Run",
			"name":             "Treadmill mystery",
		},
	}

	table, err := NormalizeAt(records, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table) != 1 {
		t.Fatalf("row with missing distance must not be dropped, got %d rows", len(table))
	}

	a := table[0]
	if a.DistanceKm != 0 {
		t.Errorf("expected zero distance, got %f", a.DistanceKm)
	}
	if a.DistanceBucket != "Unknown" {
		t.Errorf("expected Unknown bucket, got %s", a.DistanceBucket)
	}
	if a.PaceSPerKm != nil || a.PaceMinPerKm != nil {
		t.Error("expected undefined pace for zero distance")
	}
	if a.ElapsedTime != nil || a.AverageSpeed != nil {
		t.Error("expected optional fields to stay undefined when absent")
	}
}

func TestNormalizePaceDefinedOnlyWithDistance(t *testing.T) {
	records := []RawActivity{
		rawRun("2024-05-14T07:30:00Z", 10000, 3600),
		rawRun("2024-05-13T07:30:00Z", 0, 1200),
		{
			"start_date_local": "2024-05-12T07:30:00Z",
			"distance":         21100.0,
			"moving_time":      7200.0,
			"sport_type":       "Ride",
		},
	}

	table, err := NormalizeAt(records, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, a := range table {
		defined := a.PaceMinPerKm != nil
		if defined != (a.DistanceKm > 0) {
			t.Errorf("row %d: pace defined=%v but distance_km=%f", i, defined, a.DistanceKm)
		}
		if (a.PaceSPerKm != nil) != defined {
			t.Errorf("row %d: pace fields must be defined together", i)
		}
		if !defined {
			continue
		}
		if math.Abs(*a.PaceMinPerKm-*a.PaceSPerKm/60) > 1e-9 {
			t.Errorf("row %d: min/km %f != s/km %f / 60", i, *a.PaceMinPerKm, *a.PaceSPerKm)
		}
		if math.Abs(*a.PaceSPerKm-float64(a.MovingTime)/a.DistanceKm) > 1e-9 {
			t.Errorf("row %d: s/km %f != moving_time/distance", i, *a.PaceSPerKm)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	records := []RawActivity{
		rawRun("2024-05-14T07:30:00Z", 5000, 1800),
		{
			"start_date_local": "2024-05-12T09:00:00Z",
			"distance":         30000.0,
			"moving_time":      4000.0,
			"sport_type":       "Ride",
			"name":             "Sunday Spin",
		},
		{"start_date_local": "2024-05-11T10:00:00Z"},
	}

	first, err := NormalizeAt(records, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NormalizeAt(records, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("normalizing the same batch twice must yield identical output")
	}
}

func TestNormalizeEmptyBatch(t *testing.T) {
	table, err := NormalizeAt(nil, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table) != 0 {
		t.Errorf("expected empty table, got %d rows", len(table))
	}
}

func TestNormalizePreservesInputOrder(t *testing.T) {
	records := []RawActivity{
		rawRun("2024-05-10T07:30:00Z", 1000, 300),
		rawRun("2024-05-14T07:30:00Z", 2000, 600),
		rawRun("2024-05-12T07:30:00Z", 3000, 900),
	}

	table, err := NormalizeAt(records, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(table))
	}
	want := []float64{1.0, 2.0, 3.0}
	for i, a := range table {
		if a.DistanceKm != want[i] {
			t.Errorf("row %d: distance %f, want %f (input order not preserved)", i, a.DistanceKm, want[i])
		}
	}
}
