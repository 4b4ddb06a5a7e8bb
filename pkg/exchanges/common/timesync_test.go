package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

type fakeServer struct {
	time  int64
	err   error
	calls int
}

func (s *fakeServer) ServerTime(context.Context) (int64, error) {
	s.calls++
	return s.time, s.err
}

func newTestClock(fc *fakeClock) *ClockSkew {
	cfg := DefaultClockConfig()
	cfg.Now = fc.now
	return NewClockSkew(cfg, zerolog.Nop())
}

func TestTimestampAppliesOffsetAndBuffer(t *testing.T) {
	fc := &fakeClock{t: time.Unix(1_700_000_000, 900_000_000)}
	c := newTestClock(fc)

	assert.Equal(t, int64(1_700_000_005), c.Timestamp(0), "floor(now) + 0 offset + 5s buffer")

	c.Observe(1_700_000_030, fc.t)
	assert.Equal(t, int64(30), c.Offset())
	assert.Equal(t, int64(1_700_000_035), c.Timestamp(0))
}

func TestTimestampGrowsPerAttempt(t *testing.T) {
	fc := &fakeClock{t: time.Unix(1_000, 0)}
	c := newTestClock(fc)

	tests := []struct {
		attempt int
		want    int64
	}{
		{0, 1_005},
		{1, 1_015},
		{2, 1_025},
		{3, 1_035},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Timestamp(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestObserveExpiryCorrectsOffsetImmediately(t *testing.T) {
	fc := &fakeClock{t: time.Unix(1_000, 0)}
	c := newTestClock(fc)

	// Local clock is 40s behind the venue.
	c.ObserveExpiry(1_005, 1_040, fc.t)

	snap := c.Snapshot()
	assert.Equal(t, int64(40), snap.OffsetSeconds)
	assert.Equal(t, int64(35), snap.LastDetectedSkew)
	assert.Equal(t, SourceError, snap.Source)
	assert.Equal(t, int64(1_045), c.Timestamp(0))
}

func TestObserveExpiryResidualSkewRaisesRetryBuffer(t *testing.T) {
	fc := &fakeClock{t: time.Unix(1_000, 0)}
	c := newTestClock(fc)

	// The venue saw a timestamp 60s stale while the offset moved by 10s:
	// 50s are unexplained by the clock difference.
	c.ObserveExpiry(980, 1_040, time.Unix(1_030, 0))

	assert.Equal(t, int64(10), c.Offset())
	// max(10*1, 50+2) = 52
	assert.Equal(t, int64(1_000+10+5+52), c.Timestamp(1))
	// max(10*6, 52) = 60
	assert.Equal(t, int64(1_000+10+5+60), c.Timestamp(6))
}

func TestSyncUsesMidpointAndFallsBackOnFailure(t *testing.T) {
	fc := &fakeClock{t: time.Unix(2_000, 0)}
	c := newTestClock(fc)
	srv := &fakeServer{time: 2_100}
	c.SetSource(srv)

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, int64(100), c.Offset())
	assert.Equal(t, SourceSync, c.Snapshot().Source)

	srv.err = errors.New("venue down")
	require.Error(t, c.Sync(context.Background()))
	assert.Equal(t, int64(100), c.Offset(), "offset survives a failed sync")
}

func TestMaybeSyncRespectsInterval(t *testing.T) {
	fc := &fakeClock{t: time.Unix(3_000, 0)}
	c := newTestClock(fc)
	srv := &fakeServer{time: 3_000}
	c.SetSource(srv)

	c.MaybeSync(context.Background())
	c.MaybeSync(context.Background())
	assert.Equal(t, 1, srv.calls)

	fc.advance(4 * time.Minute)
	c.MaybeSync(context.Background())
	assert.Equal(t, 1, srv.calls)

	fc.advance(time.Minute)
	c.MaybeSync(context.Background())
	assert.Equal(t, 2, srv.calls)
}

func TestMaybeSyncSkipsAfterRecentObservation(t *testing.T) {
	fc := &fakeClock{t: time.Unix(3_000, 0)}
	c := newTestClock(fc)
	srv := &fakeServer{time: 3_000}
	c.SetSource(srv)

	c.Observe(3_002, fc.t)
	c.MaybeSync(context.Background())
	assert.Zero(t, srv.calls)
}

func TestMaybeSyncWithoutSourceKeepsZeroOffset(t *testing.T) {
	fc := &fakeClock{t: time.Unix(10, 0)}
	c := newTestClock(fc)
	c.MaybeSync(context.Background())
	assert.Equal(t, int64(15), c.Timestamp(0))
}
