// Package store persists trip records in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// Trip is a planned trip summary
type Trip struct {
	ID            int64     `json:"id"`
	PlanID        string    `json:"plan_id,omitempty"`
	Start         string    `json:"start"`
	Destination   string    `json:"destination"`
	Vehicle       string    `json:"vehicle"`
	DistanceKm    float64   `json:"distance"`
	DurationHours float64   `json:"duration"`
	Stops         int       `json:"stops"`
	CreatedAt     time.Time `json:"created_at"`
}

// TripStore saves and lists trips
type TripStore struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
	CREATE TABLE IF NOT EXISTS trips (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plan_id TEXT NOT NULL DEFAULT '',
		start TEXT NOT NULL,
		destination TEXT NOT NULL,
		vehicle TEXT NOT NULL,
		distance_km REAL NOT NULL,
		duration_hours REAL NOT NULL,
		stops INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)
`

// Open opens (creating if needed) the trip database at path
func Open(path string) (*TripStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trips table: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Trip database initialized: %s", path)
	return &TripStore{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *TripStore) Close() error {
	return s.db.Close()
}

// Save inserts trip and fills in its ID and CreatedAt
func (s *TripStore) Save(ctx context.Context, trip *Trip) error {
	trip.CreatedAt = s.now().UTC().Truncate(time.Millisecond)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO trips (plan_id, start, destination, vehicle, distance_km, duration_hours, stops, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		trip.PlanID,
		trip.Start,
		trip.Destination,
		trip.Vehicle,
		trip.DistanceKm,
		trip.DurationHours,
		trip.Stops,
		trip.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	trip.ID = id
	return nil
}

// List returns trips newest first. A non-positive limit returns all trips.
func (s *TripStore) List(ctx context.Context, limit int) ([]Trip, error) {
	query := `
		SELECT id, plan_id, start, destination, vehicle, distance_km, duration_hours, stops, created_at
		FROM trips
		ORDER BY id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	trips := []Trip{}
	for rows.Next() {
		var t Trip
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.PlanID, &t.Start, &t.Destination, &t.Vehicle,
			&t.DistanceKm, &t.DurationHours, &t.Stops, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trips: %w", err)
	}

	return trips, nil
}
