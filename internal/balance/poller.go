// Package balance polls the venue for positions and wallet balances while a
// session is active.
package balance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trading-gateway/internal/state"
	"trading-gateway/pkg/exchanges/common"
)

// Source fetches wallet balances.
type Source interface {
	Balances(ctx context.Context) (common.Listing[common.Balance], error)
}

// Refresher reconciles the ledger against the venue.
type Refresher interface {
	Refresh(ctx context.Context) (state.RefreshReport, error)
}

// Snapshot is the cached poll result.
type Snapshot struct {
	Balances   []common.Balance    `json:"balances"`
	LastSync   time.Time           `json:"last_sync"`
	Degraded   bool                `json:"degraded"`
	LastReport state.RefreshReport `json:"last_report"`
	LastError  string              `json:"last_error,omitempty"`
	Runs       uint64              `json:"runs"`
	Skipped    uint64              `json:"skipped"`
}

// Poller runs a refresh per tick and skips ticks while one is in flight.
type Poller struct {
	interval time.Duration
	ledger   Refresher
	source   Source
	gate     common.SessionGate
	logger   zerolog.Logger

	inFlight atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64

	mu    sync.RWMutex
	cache Snapshot
}

// NewPoller creates a poller. interval defaults to 5s.
func NewPoller(interval time.Duration, ledger Refresher, source Source, gate common.SessionGate, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		interval: interval,
		ledger:   ledger,
		source:   source,
		gate:     gate,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Start ticks until ctx is done.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				go p.Tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Tick runs one refresh unless the previous one is still running. It
// returns false when the tick was skipped.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug().Msg("refresh still in flight, tick skipped")
		return false
	}
	defer p.inFlight.Store(false)

	if p.gate != nil && p.gate.Require() != nil {
		return true
	}
	p.runs.Add(1)
	p.run(ctx)
	return true
}

func (p *Poller) run(ctx context.Context) {
	var lastErr error

	report, refreshErr := p.ledger.Refresh(ctx)
	if refreshErr != nil {
		lastErr = refreshErr
		p.logger.Warn().Err(refreshErr).Str("kind", string(common.KindOf(refreshErr))).Msg("ledger refresh failed")
	}

	var (
		bals    common.Listing[common.Balance]
		balsErr error
	)
	if p.source != nil {
		bals, balsErr = p.source.Balances(ctx)
		if balsErr != nil {
			lastErr = balsErr
			p.logger.Warn().Err(balsErr).Str("kind", string(common.KindOf(balsErr))).Msg("balance fetch failed")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if lastErr == nil {
		p.cache.LastSync = time.Now()
		p.cache.LastError = ""
	} else {
		p.cache.LastError = lastErr.Error()
	}
	if p.source != nil && balsErr == nil && !bals.Degraded {
		p.cache.Balances = bals.Items
	}
	if refreshErr == nil {
		p.cache.LastReport = report
	}
	p.cache.Degraded = bals.Degraded || report.Degraded
}

// Snapshot returns the cached result.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	s := p.cache
	p.mu.RUnlock()
	s.Balances = append([]common.Balance(nil), s.Balances...)
	s.Runs = p.runs.Load()
	s.Skipped = p.skipped.Load()
	return s
}
