// Package monitor exports gateway metrics and forwards alert-worthy events.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trading-gateway/internal/events"
)

// AlertSink delivers alert messages (chat webhook, pager, log).
type AlertSink interface {
	Send(ctx context.Context, message string) error
}

// LogSink writes alerts to the logger at warn level.
type LogSink struct {
	Logger zerolog.Logger
}

// Send implements AlertSink.
func (s LogSink) Send(_ context.Context, message string) error {
	s.Logger.Warn().Str("component", "alerts").Msg(message)
	return nil
}

// alertTopics are forwarded to the sink.
var alertTopics = []events.Event{
	events.EventRiskAlert,
	events.EventKillSwitchEngaged,
	events.EventStrategyStopped,
	events.EventTradeFailed,
}

// Monitor turns bus events into alert messages.
type Monitor struct {
	sink   AlertSink
	logger zerolog.Logger
}

// New creates a monitor.
func New(sink AlertSink, logger zerolog.Logger) *Monitor {
	return &Monitor{sink: sink, logger: logger.With().Str("component", "monitor").Logger()}
}

// Watch forwards alerts from bus until ctx is done.
func (m *Monitor) Watch(ctx context.Context, bus *events.Bus) {
	stream, unsub := bus.Subscribe(events.EventAll, 64)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				msg, alert := Format(env)
				if !alert {
					continue
				}
				if err := m.sink.Send(ctx, msg); err != nil {
					m.logger.Error().Err(err).Str("topic", string(env.Topic)).Msg("alert delivery failed")
				}
			}
		}
	}()
}

// Format renders env as an alert line. It returns false for topics that
// are not alert-worthy.
func Format(env events.Envelope) (string, bool) {
	alert := false
	for _, t := range alertTopics {
		if env.Topic == t {
			alert = true
			break
		}
	}
	if !alert {
		return "", false
	}

	var body string
	switch p := env.Payload.(type) {
	case events.RiskAlert:
		body = fmt.Sprintf("risk %s: drawdown %.2f%% of %.2f%% (%s)", p.Level, p.CurrentDrawdownPct, p.MaxDrawdownPct, p.Message)
	case events.KillSwitchEngaged:
		body = fmt.Sprintf("kill switch %s: closed %d, failed %d in %s", p.Mode, len(p.Closed), len(p.Failed), p.Duration)
		if len(p.Failed) > 0 {
			body += " [" + strings.Join(p.Failed, ",") + "]"
		}
	case events.StrategyStopped:
		body = "session stopped: " + p.Reason
		if p.Kind != "" {
			body += " (" + string(p.Kind) + ")"
		}
	case events.TradeFailed:
		body = fmt.Sprintf("order failed %s %s %g: %s (%s)", p.Side, p.Symbol, p.Qty, p.Error, p.Kind)
	default:
		body = string(env.Topic)
	}
	return fmt.Sprintf("[%s] [%s] %s", env.At.UTC().Format(time.RFC3339), env.Account, body), true
}
