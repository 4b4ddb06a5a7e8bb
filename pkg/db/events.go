package db

import (
	"context"
	"fmt"
	"time"
)

// InsertEventQuery stores one SQLite journal row. Duplicate ids are ignored.
const InsertEventQuery = `INSERT OR IGNORE INTO gateway_events (id, topic, account, kind, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`

const insertEventPostgres = `INSERT INTO gateway_events (id, topic, account, kind, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`

// InsertEventSQL returns the insert statement for d's dialect. Arguments
// are id, topic, account, kind, payload, created_at.
func (d *Database) InsertEventSQL() string {
	if d.Dialect == DialectPostgres {
		return insertEventPostgres
	}
	return InsertEventQuery
}

// EventRow is one journaled gateway event.
type EventRow struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Account   string    `json:"account"`
	Kind      string    `json:"kind,omitempty"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertEvent writes one row outside any batch.
func (d *Database) InsertEvent(ctx context.Context, e EventRow) error {
	_, err := d.DB.ExecContext(ctx, d.InsertEventSQL(), e.ID, e.Topic, e.Account, e.Kind, e.Payload, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// ListEvents returns the newest events first, optionally filtered by topic.
func (d *Database) ListEvents(ctx context.Context, topic string, limit int) ([]EventRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, topic, account, kind, payload, created_at FROM gateway_events`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.Topic, &e.Account, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns the number of journaled events for a topic ("" for all).
func (d *Database) CountEvents(ctx context.Context, topic string) (int, error) {
	query := `SELECT COUNT(*) FROM gateway_events`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	var n int
	if err := d.DB.QueryRowContext(ctx, d.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
