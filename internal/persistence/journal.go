// Package persistence journals gateway events to SQLite for the UI and
// notification layers. The gateway itself never reads them back.
package persistence

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"trading-gateway/internal/events"
	"trading-gateway/pkg/db"
)

// Journal subscribes to every bus topic and writes rows in batches.
type Journal struct {
	db     *db.Database
	writer *BatchWriter
	logger zerolog.Logger

	unsubs []func()
	wg     sync.WaitGroup
}

// NewJournal creates a journal over database.
func NewJournal(database *db.Database, writer *BatchWriter, logger zerolog.Logger) *Journal {
	return &Journal{
		db:     database,
		writer: writer,
		logger: logger.With().Str("component", "journal").Logger(),
	}
}

// Attach starts consuming bus. It can be called once per bus.
func (j *Journal) Attach(bus *events.Bus) {
	ch, unsub := bus.Subscribe(events.EventAll, 256)
	j.unsubs = append(j.unsubs, unsub)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for env := range ch {
			j.Record(env)
		}
	}()
}

// Record buffers one envelope.
func (j *Journal) Record(env events.Envelope) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		j.logger.Error().Err(err).Str("topic", string(env.Topic)).Msg("encode event payload")
		return
	}
	j.writer.Write(WriteOp{
		Query: j.db.InsertEventSQL(),
		Args:  []any{env.ID, string(env.Topic), env.Account, kindOf(env.Payload), string(payload), env.At.UTC()},
	})
}

// Recent returns the newest journaled events, flushing pending writes first.
func (j *Journal) Recent(ctx context.Context, topic string, limit int) ([]db.EventRow, error) {
	if err := j.writer.Flush(ctx); err != nil {
		return nil, err
	}
	return j.db.ListEvents(ctx, topic, limit)
}

// Close detaches from every bus and flushes the writer.
func (j *Journal) Close() error {
	for _, u := range j.unsubs {
		u()
	}
	j.wg.Wait()
	return j.writer.Close()
}

func kindOf(payload any) string {
	switch p := payload.(type) {
	case events.TradeFailed:
		return string(p.Kind)
	case events.StrategyStopped:
		return string(p.Kind)
	case events.RiskAlert:
		return p.Level
	default:
		return ""
	}
}
