// Package session holds the lifecycle gate that every trading call passes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-gateway/internal/events"
	"trading-gateway/pkg/exchanges/common"
)

// State is the session lifecycle state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateVerifying     State = "VERIFYING"
	StateActive        State = "ACTIVE"
	StateStopped       State = "STOPPED"
	StateError         State = "ERROR"
)

// ErrVerificationInProgress is returned by Start while a probe is running.
var ErrVerificationInProgress = errors.New("session verification already in progress")

// InactiveError is returned for gated calls outside the Active state.
type InactiveError struct {
	State  State
	Reason string
}

func (e *InactiveError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: state %s (%s)", common.ErrSessionInactive, e.State, e.Reason)
	}
	return fmt.Sprintf("%s: state %s", common.ErrSessionInactive, e.State)
}

func (e *InactiveError) Is(target error) bool { return target == common.ErrSessionInactive }

// Prober runs the low-risk authenticated call that proves the credential
// and clock are usable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// Snapshot is a read-only view for the UI.
type Snapshot struct {
	State     State       `json:"state"`
	Reason    string      `json:"reason,omitempty"`
	ErrorKind common.Kind `json:"error_kind,omitempty"`
	Since     time.Time   `json:"since"`
	ActiveAt  time.Time   `json:"active_at,omitempty"`
}

// Controller owns the session state. Only its methods change it.
type Controller struct {
	prober Prober
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	state    State
	reason   string
	kind     common.Kind
	since    time.Time
	activeAt time.Time
	epoch    uint64 // bumped on every Start and Stop
}

// NewController returns a controller in the Uninitialized state.
func NewController(prober Prober, bus *events.Bus, logger zerolog.Logger) *Controller {
	return &Controller{
		prober: prober,
		bus:    bus,
		logger: logger.With().Str("component", "session").Logger(),
		now:    time.Now,
		state:  StateUninitialized,
		since:  time.Now(),
	}
}

// Start verifies the credential and activates the session. It is a no-op
// when already Active and re-enters from Stopped or Error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateActive:
		c.mu.Unlock()
		return nil
	case StateVerifying:
		c.mu.Unlock()
		return ErrVerificationInProgress
	}
	c.epoch++
	epoch := c.epoch
	c.transitionLocked(StateVerifying, "", common.KindNone)
	c.mu.Unlock()

	started := c.now()
	err := c.prober.Probe(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state != StateVerifying {
		// Stopped while the probe was in flight; keep the newer state.
		return &InactiveError{State: c.state, Reason: "stopped during verification"}
	}
	if err != nil {
		kind := common.KindOf(err)
		c.transitionLocked(StateError, err.Error(), kind)
		c.bus.Publish(events.EventStrategyStopped, events.StrategyStopped{Reason: err.Error(), Kind: kind})
		c.logger.Error().Err(err).Str("kind", string(kind)).Msg("session verification failed")
		return err
	}
	c.activeAt = c.now()
	c.transitionLocked(StateActive, "", common.KindNone)
	c.bus.Publish(events.EventStrategyStarted, events.StrategyStarted{VerifiedIn: c.now().Sub(started).String()})
	c.logger.Info().Msg("session active")
	return nil
}

// Stop moves an Active or Verifying session to Stopped. It reports whether
// the state changed; repeated calls are no-ops.
func (c *Controller) Stop(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StateVerifying {
		return false
	}
	c.epoch++
	c.transitionLocked(StateStopped, reason, common.KindNone)
	c.bus.Publish(events.EventStrategyStopped, events.StrategyStopped{Reason: reason})
	c.logger.Info().Str("reason", reason).Msg("session stopped")
	return true
}

// Require returns nil only while the session is Active.
func (c *Controller) Require() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateActive {
		return &InactiveError{State: c.state, Reason: c.reason}
	}
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns the current state with its reason.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{State: c.state, Reason: c.reason, ErrorKind: c.kind, Since: c.since}
	if c.state == StateActive {
		s.ActiveAt = c.activeAt
	}
	return s
}

func (c *Controller) transitionLocked(to State, reason string, kind common.Kind) {
	from := c.state
	c.state = to
	c.reason = reason
	c.kind = kind
	c.since = c.now()
	c.bus.Publish(events.EventSessionChanged, events.SessionChanged{From: string(from), To: string(to), Reason: reason})
	c.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("session transition")
}
