package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidewatch/tidewatch/internal/models"

	_ "modernc.org/sqlite" // Register sqlite driver
)

// Archive is a write-through sqlite log of system events. The in-memory
// event ring stays authoritative; the archive only lets operators look past
// the ring's horizon after the fact. Readings are never persisted.
type Archive struct {
	db *sql.DB
}

func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return &Archive{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS system_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT NOT NULL,
			ts          TEXT NOT NULL,
			source      TEXT NOT NULL,
			details     TEXT NOT NULL,
			duration_ms REAL
		);
		CREATE INDEX IF NOT EXISTS idx_system_events_ts ON system_events(ts);
	`)
	return err
}

func (a *Archive) InsertEvent(ctx context.Context, event models.SystemEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to encode details: %w", err)
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO system_events (kind, ts, source, details, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		string(event.Kind),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Source,
		string(details),
		event.DurationMS,
	)
	return err
}

// RecentEvents returns up to limit of the newest archived events, oldest
// first within the returned window.
func (a *Archive) RecentEvents(ctx context.Context, limit int) ([]models.SystemEvent, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT kind, ts, source, details, duration_ms FROM system_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.SystemEvent
	for rows.Next() {
		var (
			kind, ts, source, details string
			durationMS                sql.NullFloat64
		)
		if err := rows.Scan(&kind, &ts, &source, &details, &durationMS); err != nil {
			return nil, err
		}

		event := models.SystemEvent{
			Kind:   models.EventKind(kind),
			Source: source,
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = parsed
		}
		if err := json.Unmarshal([]byte(details), &event.Details); err != nil {
			event.Details = map[string]any{"raw": details}
		}
		if durationMS.Valid {
			event.DurationMS = &durationMS.Float64
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// rows came newest-first; flip to insertion order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}
