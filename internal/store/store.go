// Package store persists raw Strava activities in SQLite. Activities are
// kept as the JSON objects the API returned so normalization rules can
// change without a re-sync.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calebwray/tempo/internal/analytics"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

// Store provides access to the activities table
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertActivities saves a batch of raw activities, replacing rows that
// already exist. Records without a usable id or start date are skipped.
// Returns the number of rows written.
func (s *Store) UpsertActivities(ctx context.Context, activities []analytics.RawActivity) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activities (id, start_date, raw)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			start_date = excluded.start_date,
			raw = excluded.raw,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, rec := range activities {
		id, ok := activityID(rec)
		if !ok {
			continue
		}
		startDate, ok := activityStartDate(rec)
		if !ok {
			continue
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return written, fmt.Errorf("encoding activity %d: %w", id, err)
		}

		if _, err := stmt.ExecContext(ctx, id, startDate.UTC(), string(raw)); err != nil {
			return written, fmt.Errorf("saving activity %d: %w", id, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("committing transaction: %w", err)
	}
	return written, nil
}

// ListRawActivities returns all stored activities ordered by start date,
// newest first.
func (s *Store) ListRawActivities(ctx context.Context) ([]analytics.RawActivity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw FROM activities ORDER BY start_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var activities []analytics.RawActivity
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}

		var rec analytics.RawActivity
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding activity: %w", err)
		}
		activities = append(activities, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}

	return activities, nil
}

// LatestStartDate returns the most recent activity start date, or the zero
// time when no activities are stored.
func (s *Store) LatestStartDate(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MAX(start_date) FROM activities`).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest start date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// CountActivities returns the number of stored activities
func (s *Store) CountActivities(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting activities: %w", err)
	}
	return count, nil
}

func activityID(rec analytics.RawActivity) (int64, bool) {
	switch v := rec["id"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func activityStartDate(rec analytics.RawActivity) (time.Time, bool) {
	for _, field := range []string{"start_date", "start_date_local"} {
		raw, ok := rec[field].(string)
		if !ok {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
