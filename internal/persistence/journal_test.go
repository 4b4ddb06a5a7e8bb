package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/internal/events"
	"trading-gateway/pkg/db"
	"trading-gateway/pkg/exchanges/common"
)

func newTestJournal(t *testing.T) (*Journal, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	w := NewBatchWriter(database.DB, 10, time.Hour, zerolog.Nop())
	return NewJournal(database, w, zerolog.Nop()), database
}

func TestJournalRecordsBusEvents(t *testing.T) {
	j, database := newTestJournal(t)
	bus := events.NewBus("main")
	j.Attach(bus)

	bus.Publish(events.EventTradeFailed, events.TradeFailed{Symbol: "BTCUSD", Kind: common.KindRiskLimitExceeded, Error: "limit"})
	bus.Publish(events.EventStrategyStarted, events.StrategyStarted{VerifiedIn: "1ms"})

	require.Eventually(t, func() bool { return j.writer.Pending() == 2 }, time.Second, time.Millisecond)

	rows, err := j.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "strategy.started", rows[0].Topic)
	assert.Equal(t, "RiskLimitExceeded", rows[1].Kind)
	assert.Equal(t, "main", rows[1].Account)
	assert.JSONEq(t, `{"symbol":"BTCUSD","side":"","qty":0,"closing":false,"kind":"RiskLimitExceeded","error":"limit"}`, rows[1].Payload)

	require.NoError(t, j.Close())
	n, err := database.CountEvents(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()

	w := NewBatchWriter(database.DB, 2, time.Hour, zerolog.Nop())
	defer w.Close()
	at := time.Now()
	w.Write(WriteOp{Query: db.InsertEventQuery, Args: []any{"a", "t", "", "", "{}", at}})
	assert.Equal(t, 1, w.Pending())
	w.Write(WriteOp{Query: db.InsertEventQuery, Args: []any{"b", "t", "", "", "{}", at}})
	assert.Equal(t, 0, w.Pending())

	s := w.Stats()
	assert.Equal(t, uint64(2), s.TotalWrites)
	assert.Equal(t, uint64(1), s.TotalBatches)
	assert.Zero(t, s.TotalErrors)
}

func TestBatchWriterRollsBackOnError(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()

	w := NewBatchWriter(database.DB, 10, time.Hour, zerolog.Nop())
	defer w.Close()
	w.Write(WriteOp{Query: db.InsertEventQuery, Args: []any{"a", "t", "", "", "{}", time.Now()}})
	w.Write(WriteOp{Query: "INSERT INTO missing_table VALUES (1)"})

	assert.Error(t, w.Flush(context.Background()))
	assert.Equal(t, uint64(1), w.Stats().TotalErrors)
	n, err := database.CountEvents(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}
