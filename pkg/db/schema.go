package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS gateway_events (
    id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    account TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_gateway_events_topic ON gateway_events(topic, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS gateway_events (
    id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    account TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

ALTER TABLE gateway_events ADD COLUMN IF NOT EXISTS kind TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_gateway_events_topic ON gateway_events(topic, created_at);
`

// ApplyMigrations creates tables and adds columns introduced after the
// first release.
func ApplyMigrations(d *Database) error {
	if d.Dialect == DialectPostgres {
		if _, err := d.DB.Exec(postgresSchema); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		return nil
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := ensureColumn(d.DB, "gateway_events", "kind", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
