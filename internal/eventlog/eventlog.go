// Package eventlog persists lock events to SQLite.
//
// The cloud only serves a short rolling history window per device; the
// event log turns that window into a durable audit trail. Writes are
// idempotent on (device, event ID), so replaying the same history window
// on every refresh is cheap and correct.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/database"
)

// DefaultQueryLimit caps event queries with no explicit limit.
const DefaultQueryLimit = 100

// Log writes and queries the lock_events table. It implements
// coordinator.EventSink.
type Log struct {
	db *database.DB
}

// New wraps an open database.
func New(db *database.DB) *Log {
	return &Log{db: db}
}

// Record stores one event. Duplicate (device, event ID) pairs are
// silently ignored.
func (l *Log) Record(ctx context.Context, deviceID string, ev coordinator.HistoryEvent) error {
	var ts int64
	if !ev.Timestamp.IsZero() {
		ts = ev.Timestamp.Unix()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO lock_events
		   (device_id, event_id, event, event_type, user, category, timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		deviceID, ev.EventID, ev.Message, ev.EventType, ev.User, ev.Category,
		ts, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording lock event %s: %w", ev.EventID, err)
	}
	return nil
}

// Query returns the stored events for a device, newest first.
func (l *Log) Query(ctx context.Context, deviceID string, limit int) ([]coordinator.HistoryEvent, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, event, event_type, user, category, timestamp
		 FROM lock_events
		 WHERE device_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying lock events: %w", err)
	}
	defer rows.Close()

	var out []coordinator.HistoryEvent
	for rows.Next() {
		var ev coordinator.HistoryEvent
		var ts int64
		if err := rows.Scan(&ev.EventID, &ev.Message, &ev.EventType, &ev.User, &ev.Category, &ts); err != nil {
			return nil, fmt.Errorf("scanning lock event: %w", err)
		}
		if ts > 0 {
			ev.Timestamp = time.Unix(ts, 0).UTC()
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lock events: %w", err)
	}
	return out, nil
}

// Prune deletes events older than the cutoff, returning the count removed.
func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM lock_events WHERE timestamp > 0 AND timestamp < ?`, before.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning lock events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned lock events: %w", err)
	}
	return n, nil
}
