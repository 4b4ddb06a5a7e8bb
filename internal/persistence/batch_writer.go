package persistence

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// WriteOp is one buffered statement.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter buffers writes and commits them in one transaction per flush.
type BatchWriter struct {
	db       *sql.DB
	logger   zerolog.Logger
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	buffer []WriteOp

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	writes  atomic.Uint64
	batches atomic.Uint64
	errors  atomic.Uint64
	last    atomic.Int64 // unix nanos of the last flush
}

// WriterStats are cumulative batch counters.
type WriterStats struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	Pending       int       `json:"pending"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter flushes every interval or once maxSize ops are buffered.
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration, logger zerolog.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	bw := &BatchWriter{
		db:       db,
		logger:   logger.With().Str("component", "batch_writer").Logger(),
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]WriteOp, 0, maxSize),
		done:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.backgroundFlush()
	return bw
}

// Write buffers op and flushes when the buffer is full.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		if err := bw.Flush(context.Background()); err != nil {
			bw.logger.Error().Err(err).Msg("size-triggered flush failed")
		}
	}
}

// Flush commits everything buffered so far.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.execute(ctx, ops)
}

func (bw *BatchWriter) execute(ctx context.Context, ops []WriteOp) error {
	bw.writes.Add(uint64(len(ops)))
	bw.batches.Add(1)
	bw.last.Store(time.Now().UnixNano())

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		bw.errors.Add(1)
		return err
	}
	for _, op := range ops {
		if _, err := tx.ExecContext(ctx, op.Query, op.Args...); err != nil {
			_ = tx.Rollback()
			bw.errors.Add(1)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		bw.errors.Add(1)
		return err
	}
	bw.logger.Debug().Int("ops", len(ops)).Msg("batch flushed")
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(context.Background()); err != nil {
				bw.logger.Warn().Err(err).Msg("background flush failed")
			}
		case <-bw.done:
			if err := bw.Flush(context.Background()); err != nil {
				bw.logger.Warn().Err(err).Msg("final flush failed")
			}
			return
		}
	}
}

// Pending returns the number of buffered ops.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Stats returns the cumulative counters.
func (bw *BatchWriter) Stats() WriterStats {
	s := WriterStats{
		TotalWrites:  bw.writes.Load(),
		TotalBatches: bw.batches.Load(),
		TotalErrors:  bw.errors.Load(),
		Pending:      bw.Pending(),
	}
	if n := bw.last.Load(); n > 0 {
		s.LastFlushTime = time.Unix(0, n)
	}
	return s
}

// Close flushes what is left and stops the background loop.
func (bw *BatchWriter) Close() error {
	bw.once.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
