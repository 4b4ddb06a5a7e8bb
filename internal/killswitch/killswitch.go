// Package killswitch collapses a gateway's session and positions on demand.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-gateway/internal/events"
	"trading-gateway/internal/state"
)

// Mode selects the kill switch severity.
type Mode string

const (
	ModePreventNew Mode = "PREVENT_NEW"
	ModeCloseAll   Mode = "CLOSE_ALL"
	ModeBoth       Mode = "BOTH"
)

// ParseMode accepts the mode names case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModePreventNew, ModeCloseAll, ModeBoth:
		return m, nil
	default:
		return "", fmt.Errorf("killswitch: unknown mode %q", s)
	}
}

// ErrCloseContended reports a position that another caller kept closing
// while the kill switch waited on it.
var ErrCloseContended = errors.New("killswitch: close still contended")

// Stopper halts new trading.
type Stopper interface {
	Stop(reason string) bool
}

// Closer closes ledger positions.
type Closer interface {
	OpenPositions() []state.Position
	ClosePosition(ctx context.Context, id string) (state.Position, error)
	WaitClose(ctx context.Context, id string) error
}

// Report describes one kill switch run.
type Report struct {
	Mode           Mode      `json:"mode"`
	SessionStopped bool      `json:"session_stopped"`
	Closed         []string  `json:"closed"`
	Failed         []string  `json:"failed"`
	StartedAt      time.Time `json:"started_at"`
	Duration       string    `json:"duration"`
}

// Switch runs kill switch invocations one at a time.
type Switch struct {
	session Stopper
	ledger  Closer
	bus     *events.Bus
	logger  zerolog.Logger

	mu sync.Mutex
}

// New creates a kill switch over a session and a ledger.
func New(session Stopper, ledger Closer, bus *events.Bus, logger zerolog.Logger) *Switch {
	return &Switch{
		session: session,
		ledger:  ledger,
		bus:     bus,
		logger:  logger.With().Str("component", "killswitch").Logger(),
	}
}

// Engage runs mode. Both stops the session before the first close is sent.
// A close already in flight elsewhere is awaited and retried if it failed.
// Close failures are joined into the returned error. Positions opened by
// calls that passed the session gate before the stop are picked up by a
// second pass.
func (s *Switch) Engage(ctx context.Context, mode Mode) (Report, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return Report{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	rep := Report{Mode: mode, StartedAt: start, Closed: []string{}, Failed: []string{}}
	s.logger.Warn().Str("mode", string(mode)).Msg("kill switch engaged")

	if mode == ModePreventNew || mode == ModeBoth {
		rep.SessionStopped = s.session.Stop("kill switch " + string(mode))
	}

	var errs []error
	if mode == ModeCloseAll || mode == ModeBoth {
		// Closures go out one at a time so they never compete for the
		// dispatcher's retry budget.
		seen := make(map[string]bool)
		for pass := 0; pass < 2; pass++ {
			for _, p := range s.ledger.OpenPositions() {
				if seen[p.ID] {
					continue
				}
				seen[p.ID] = true
				if err := s.closeOne(ctx, p.ID); err != nil {
					rep.Failed = append(rep.Failed, p.ID)
					errs = append(errs, fmt.Errorf("close %s: %w", p.ID, err))
					continue
				}
				rep.Closed = append(rep.Closed, p.ID)
			}
		}
	}

	rep.Duration = time.Since(start).String()
	s.bus.Publish(events.EventKillSwitchEngaged, events.KillSwitchEngaged{
		Mode:     string(mode),
		Closed:   rep.Closed,
		Failed:   rep.Failed,
		Duration: rep.Duration,
	})
	err := errors.Join(errs...)
	s.logger.Warn().Err(err).Str("mode", string(mode)).Int("closed", len(rep.Closed)).Int("failed", len(rep.Failed)).Msg("kill switch finished")
	return rep, err
}

// closeOne closes id, waiting out a concurrent close once before retrying.
func (s *Switch) closeOne(ctx context.Context, id string) error {
	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.ledger.ClosePosition(ctx, id)
		switch {
		case err == nil, errors.Is(err, state.ErrPositionClosed):
			return nil
		case !errors.Is(err, state.ErrPositionClosing):
			return err
		}
		s.logger.Info().Str("position_id", id).Msg("close in flight elsewhere, waiting")
		if err := s.ledger.WaitClose(ctx, id); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrCloseContended, id)
}
