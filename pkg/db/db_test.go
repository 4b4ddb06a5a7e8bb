package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestEventsRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, d.InsertEvent(ctx, EventRow{ID: "01A", Topic: "trade.executed", Account: "main", Payload: `{"a":1}`, CreatedAt: at}))
	require.NoError(t, d.InsertEvent(ctx, EventRow{ID: "01B", Topic: "trade.failed", Kind: "SessionInactive", Payload: `{}`, CreatedAt: at}))
	require.NoError(t, d.InsertEvent(ctx, EventRow{ID: "01B", Topic: "trade.failed", Payload: `{}`, CreatedAt: at}), "duplicate ids are ignored")

	all, err := d.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "01B", all[0].ID, "newest first")
	assert.Equal(t, "SessionInactive", all[0].Kind)
	assert.True(t, all[1].CreatedAt.Equal(at))

	failed, err := d.ListEvents(ctx, "trade.failed", 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	n, err := d.CountEvents(ctx, "trade.executed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	d := newTestDB(t)
	require.NoError(t, ApplyMigrations(d))

	ok, err := columnExists(d.DB, "gateway_events", "kind")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestPostgresDialect(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://u:p@localhost:5432/gw"))
	assert.True(t, IsPostgresDSN("postgresql://localhost/gw"))
	assert.False(t, IsPostgresDSN("./data/gateway.db"))

	pg := &Database{Dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM gateway_events WHERE topic = $1 ORDER BY id DESC LIMIT $2",
		pg.rebind("SELECT * FROM gateway_events WHERE topic = ? ORDER BY id DESC LIMIT ?"))
	assert.Contains(t, pg.InsertEventSQL(), "ON CONFLICT (id) DO NOTHING")

	lite := &Database{Dialect: DialectSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
	assert.Equal(t, InsertEventQuery, lite.InsertEventSQL())
}
