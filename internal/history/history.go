// Package history stores changed mirror snapshots in SQLite.
//
// Each row is one observed change of a mirror: a device snapshot, a core
// snapshot, or the transition to unknown after a failed fetch. It gives a
// local trail of what OSM reported even when InfluxDB is not configured.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeFormat sorts lexicographically in time order.
	timeFormat = "2006-01-02T15:04:05.000000Z"
)

// Snapshot kinds.
const (
	KindDevice = "device"
	KindCore   = "core"
)

// CoreMirror is the mirror key used for the core snapshot.
const CoreMirror = "core"

// ErrNotFound is returned when a mirror has no recorded history.
var ErrNotFound = errors.New("history: not found")

// Entry is one recorded snapshot.
type Entry struct {
	ID        int64           `json:"id"`
	Mirror    string          `json:"mirror"`
	Kind      string          `json:"kind"`
	Available bool            `json:"available"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Repository is the SQLite snapshot history store.
//
// Safe for concurrent use; database/sql serialises access to the connection.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository over an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Record stores one snapshot. A nil payload records the mirror as unknown.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - mirror: Device name, or CoreMirror
//   - kind: KindDevice or KindCore
//   - payload: Snapshot value, marshalled as JSON
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Record(ctx context.Context, mirror, kind string, payload any) error {
	if mirror == "" {
		return fmt.Errorf("history: mirror is required")
	}
	if kind != KindDevice && kind != KindCore {
		return fmt.Errorf("history: unknown kind %q", kind)
	}

	available := payload != nil
	data := []byte("{}")
	if available {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("history: marshalling payload: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO snapshot_history (mirror, kind, available, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		mirror, kind, available, string(data), r.now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("history: inserting snapshot: %w", err)
	}
	return nil
}

// History returns recent entries for mirror of the given kind, newest first.
// The kind keeps a device named "core" apart from the core mirror.
// limit defaults to 50 and is capped at 200.
func (r *Repository) History(ctx context.Context, mirror, kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mirror, kind, available, payload, created_at
		 FROM snapshot_history
		 WHERE mirror = ? AND kind = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		mirror, kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: querying: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating: %w", err)
	}
	return entries, nil
}

// Latest returns the newest entry for mirror of the given kind, or ErrNotFound.
func (r *Repository) Latest(ctx context.Context, mirror, kind string) (Entry, error) {
	entries, err := r.History(ctx, mirror, kind, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNotFound
	}
	return entries[0], nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timeFormat)
	res, err := r.db.ExecContext(ctx, "DELETE FROM snapshot_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: pruning: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var payload, created string
	if err := s.Scan(&e.ID, &e.Mirror, &e.Kind, &e.Available, &payload, &created); err != nil {
		return Entry{}, fmt.Errorf("history: scanning: %w", err)
	}
	e.Payload = json.RawMessage(payload)

	t, err := time.Parse(timeFormat, created)
	if err != nil {
		return Entry{}, fmt.Errorf("history: parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}
