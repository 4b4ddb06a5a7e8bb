package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiter paces outbound venue calls and honours the cooldown a venue
// announces after a 429.
type RateLimiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	blocked   time.Time
	throttled int
}

// NewRateLimiter allows perSecond requests with the given burst.
// perSecond <= 0 disables pacing.
func NewRateLimiter(perSecond float64, burst int, logger zerolog.Logger) *RateLimiter {
	lim := rate.Inf
	if perSecond > 0 {
		lim = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(lim, burst),
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		now:     time.Now,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	until := rl.blocked
	rl.mu.RUnlock()

	if d := until.Sub(rl.now()); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return rl.limiter.Wait(ctx)
}

// Throttled records a 429. resetHeader is the venue's reset hint in
// milliseconds; when missing a one second cooldown is used.
func (rl *RateLimiter) Throttled(resetHeader string) {
	cooldown := time.Second
	if ms, err := strconv.ParseInt(resetHeader, 10, 64); err == nil && ms > 0 {
		cooldown = time.Duration(ms) * time.Millisecond
	}

	rl.mu.Lock()
	rl.blocked = rl.now().Add(cooldown)
	rl.throttled++
	count := rl.throttled
	rl.mu.Unlock()

	rl.logger.Warn().Dur("cooldown", cooldown).Int("throttled_total", count).Msg("venue rate limit hit")
}

// BlockedUntil returns the end of the current cooldown (zero if none).
func (rl *RateLimiter) BlockedUntil() time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if rl.blocked.Before(rl.now()) {
		return time.Time{}
	}
	return rl.blocked
}
