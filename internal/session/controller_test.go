package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/internal/events"
	"trading-gateway/pkg/exchanges/common"
)

func newTestController(probe ProbeFunc) (*Controller, *events.Bus) {
	bus := events.NewBus("test")
	return NewController(probe, bus, zerolog.Nop()), bus
}

func okProbe(context.Context) error { return nil }

func TestInitialStateIsGated(t *testing.T) {
	c, _ := newTestController(okProbe)
	assert.Equal(t, StateUninitialized, c.State())
	assert.ErrorIs(t, c.Require(), common.ErrSessionInactive)
}

func TestStartActivates(t *testing.T) {
	c, bus := newTestController(okProbe)
	started, unsub := bus.Subscribe(events.EventStrategyStarted, 1)
	defer unsub()

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateActive, c.State())
	assert.NoError(t, c.Require())
	assert.False(t, c.Snapshot().ActiveAt.IsZero())

	select {
	case <-started:
	default:
		t.Fatal("StrategyStarted not published")
	}
}

func TestStartFailureReportsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want common.Kind
	}{
		{"auth", common.NewVenueError(common.ErrAuthenticationRejected, "GET", "/v2/wallet/balances", 401, "invalid_api_key", "", nil), common.KindAuthenticationRejected},
		{"exhausted", &common.RetriesExhaustedError{Attempts: 4}, common.KindSignatureRetriesExhausted},
		{"venue", common.NewVenueError(common.ErrVenue, "GET", "/v2/wallet/balances", 503, "", "", nil), common.KindNetworkOrVenue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, bus := newTestController(func(context.Context) error { return tt.err })
			stopped, unsub := bus.Subscribe(events.EventStrategyStopped, 1)
			defer unsub()

			err := c.Start(context.Background())
			assert.ErrorIs(t, err, tt.err)

			snap := c.Snapshot()
			assert.Equal(t, StateError, snap.State)
			assert.Equal(t, tt.want, snap.ErrorKind)
			assert.NotEmpty(t, snap.Reason)
			assert.ErrorIs(t, c.Require(), common.ErrSessionInactive)

			ev := <-stopped
			assert.Equal(t, tt.want, ev.Payload.(events.StrategyStopped).Kind)
		})
	}
}

func TestStartIsReentrant(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	c, _ := newTestController(func(context.Context) error {
		if fail.Load() {
			return fmt.Errorf("probe: %w", common.ErrAuthenticationRejected)
		}
		return nil
	})

	require.Error(t, c.Start(context.Background()))
	assert.Equal(t, StateError, c.State())

	fail.Store(false)
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateActive, c.State())

	assert.True(t, c.Stop("operator"))
	assert.Equal(t, StateStopped, c.State())
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateActive, c.State())
}

func TestStartWhenActiveIsNoop(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestController(func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	c, bus := newTestController(okProbe)
	stopped, unsub := bus.Subscribe(events.EventStrategyStopped, 4)
	defer unsub()

	assert.False(t, c.Stop("nothing to stop"))
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Stop("kill switch"))
	assert.False(t, c.Stop("kill switch"))
	assert.Len(t, stopped, 1)
	assert.Equal(t, "kill switch", c.Snapshot().Reason)
}

func TestConcurrentStartAndStopDuringVerification(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	c, _ := newTestController(func(context.Context) error {
		close(entered)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	<-entered

	assert.Equal(t, StateVerifying, c.State())
	assert.ErrorIs(t, c.Start(context.Background()), ErrVerificationInProgress)
	assert.ErrorIs(t, c.Require(), common.ErrSessionInactive)

	assert.True(t, c.Stop("operator"))
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, common.ErrSessionInactive)
	case <-time.After(time.Second):
		t.Fatal("start did not return")
	}
	assert.Equal(t, StateStopped, c.State(), "a late probe must not re-activate a stopped session")
}
