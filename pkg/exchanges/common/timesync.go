package common

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ClockConfig tunes timestamp generation for signed requests.
type ClockConfig struct {
	SafetyBuffer time.Duration // added to every outgoing timestamp
	RetryStep    time.Duration // extra buffer per retry attempt
	RetryMargin  time.Duration // margin on top of a residual skew
	SyncInterval time.Duration // minimum gap between venue time fetches

	Now func() time.Time // defaults to time.Now
}

// DefaultClockConfig matches the venue's ~5s acceptance window.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		SafetyBuffer: 5 * time.Second,
		RetryStep:    10 * time.Second,
		RetryMargin:  2 * time.Second,
		SyncInterval: 5 * time.Minute,
	}
}

// Offset sources reported in ClockOffset.Source.
const (
	SourceNone   = "none"
	SourceSync   = "sync"
	SourceHeader = "header"
	SourceError  = "error"
)

// ClockSkew tracks venue time minus local time, in whole seconds,
// and hands out timestamps for signing.
type ClockSkew struct {
	cfg    ClockConfig
	logger zerolog.Logger

	mu          sync.RWMutex
	source      ServerClock
	offset      int64
	residual    int64 // staleness an expiry reported beyond the offset correction
	lastSkew    int64
	lastSynced  time.Time
	lastAttempt time.Time
	origin      string

	syncing atomic.Bool
}

// NewClockSkew creates an estimator with a zero offset.
func NewClockSkew(cfg ClockConfig, logger zerolog.Logger) *ClockSkew {
	def := DefaultClockConfig()
	if cfg.SafetyBuffer < 0 {
		cfg.SafetyBuffer = 0
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = def.RetryStep
	}
	if cfg.RetryMargin < 0 {
		cfg.RetryMargin = 0
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ClockSkew{
		cfg:    cfg,
		logger: logger.With().Str("component", "clock").Logger(),
		origin: SourceNone,
	}
}

// SetSource wires the venue time endpoint used by Sync.
func (c *ClockSkew) SetSource(src ServerClock) {
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()
}

// Now returns the local clock reading.
func (c *ClockSkew) Now() time.Time { return c.cfg.Now() }

// Timestamp returns the unix-seconds timestamp to sign for the given
// attempt (0 for the first send).
func (c *ClockSkew) Timestamp(attempt int) int64 {
	c.mu.RLock()
	offset, residual := c.offset, c.residual
	c.mu.RUnlock()

	ts := c.cfg.Now().Unix() + offset + seconds(c.cfg.SafetyBuffer)
	if attempt > 0 {
		extra := seconds(c.cfg.RetryStep) * int64(attempt)
		if r := residual + seconds(c.cfg.RetryMargin); residual > 0 && r > extra {
			extra = r
		}
		ts += extra
	}
	return ts
}

// Observe records a venue time reading taken from a response and applies
// it immediately.
func (c *ClockSkew) Observe(serverTime int64, localAtRequest time.Time) {
	if serverTime <= 0 {
		return
	}
	c.mu.Lock()
	c.offset = serverTime - localAtRequest.Unix()
	c.residual = 0
	c.lastSynced = c.cfg.Now()
	c.origin = SourceHeader
	c.mu.Unlock()
}

// ObserveExpiry applies the timing context of an expired-signature error.
// requestTime is the timestamp the venue says it received, serverTime the
// venue clock at rejection.
func (c *ClockSkew) ObserveExpiry(requestTime, serverTime int64, localAtRequest time.Time) {
	if serverTime <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.offset
	c.offset = serverTime - localAtRequest.Unix()
	if requestTime > 0 {
		c.lastSkew = serverTime - requestTime
		c.residual = max(0, c.lastSkew-(c.offset-old))
	}
	c.lastSynced = c.cfg.Now()
	c.origin = SourceError

	c.logger.Warn().
		Int64("request_time", requestTime).
		Int64("server_time", serverTime).
		Int64("skew", c.lastSkew).
		Int64("offset", c.offset).
		Msg("signature expired, clock offset corrected")
}

// MaybeSync fetches venue time when the last reading is older than the
// sync interval. Failures keep the last known offset.
func (c *ClockSkew) MaybeSync(ctx context.Context) {
	c.mu.RLock()
	due := c.source != nil && c.cfg.Now().Sub(c.lastAttempt) >= c.cfg.SyncInterval &&
		c.cfg.Now().Sub(c.lastSynced) >= c.cfg.SyncInterval
	c.mu.RUnlock()
	if !due {
		return
	}
	if err := c.Sync(ctx); err != nil {
		c.logger.Warn().Err(err).Int64("offset", c.Offset()).Msg("clock sync failed, keeping last offset")
	}
}

// Sync forces a venue time fetch. Concurrent calls collapse into one.
func (c *ClockSkew) Sync(ctx context.Context) error {
	if !c.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.syncing.Store(false)

	c.mu.Lock()
	src := c.source
	c.lastAttempt = c.cfg.Now()
	c.mu.Unlock()
	if src == nil {
		return nil
	}

	before := c.cfg.Now()
	serverTime, err := src.ServerTime(ctx)
	if err != nil {
		return err
	}
	after := c.cfg.Now()

	// Assume network latency is symmetric
	mid := before.Add(after.Sub(before) / 2)

	c.mu.Lock()
	c.offset = serverTime - mid.Unix()
	c.residual = 0
	c.lastSynced = after
	c.origin = SourceSync
	offset := c.offset
	c.mu.Unlock()

	c.logger.Debug().Int64("offset", offset).Int64("server_time", serverTime).Msg("clock synced")
	return nil
}

// Offset returns the current offset in seconds.
func (c *ClockSkew) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// LastDetectedSkew returns the staleness reported by the last expiry error.
func (c *ClockSkew) LastDetectedSkew() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSkew
}

// Snapshot returns the current offset and diagnostics.
func (c *ClockSkew) Snapshot() ClockOffset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClockOffset{
		OffsetSeconds:    c.offset,
		LastSyncedAt:     c.lastSynced,
		LastDetectedSkew: c.lastSkew,
		Source:           c.origin,
	}
}

func seconds(d time.Duration) int64 { return int64(d / time.Second) }
