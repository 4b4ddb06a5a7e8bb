package monitor

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trading-gateway/internal/gateway"
	"trading-gateway/internal/session"
)

var sessionStates = []session.State{
	session.StateUninitialized,
	session.StateVerifying,
	session.StateActive,
	session.StateStopped,
	session.StateError,
}

// Collector exports per-account gateway state at scrape time.
type Collector struct {
	mgr *gateway.Manager

	sessionState  *prometheus.Desc
	drawdown      *prometheus.Desc
	maxDrawdown   *prometheus.Desc
	exposure      *prometheus.Desc
	openPositions *prometheus.Desc
	clockSkew     *prometheus.Desc
	riskChecks    *prometheus.Desc
	riskRejected  *prometheus.Desc
	pollRuns      *prometheus.Desc
	pollSkipped   *prometheus.Desc
	busDropped    *prometheus.Desc
	poolSize      *prometheus.Desc
	poolUnhealthy *prometheus.Desc
}

// NewCollector creates a collector over mgr.
func NewCollector(mgr *gateway.Manager) *Collector {
	acct := []string{"account"}
	return &Collector{
		mgr:           mgr,
		sessionState:  prometheus.NewDesc("gateway_session_state", "1 for the current session state.", []string{"account", "state"}, nil),
		drawdown:      prometheus.NewDesc("gateway_risk_drawdown_pct", "Current drawdown percent.", acct, nil),
		maxDrawdown:   prometheus.NewDesc("gateway_risk_max_drawdown_pct", "Configured drawdown limit percent.", acct, nil),
		exposure:      prometheus.NewDesc("gateway_risk_exposure", "Total notional exposure of open positions.", acct, nil),
		openPositions: prometheus.NewDesc("gateway_open_positions", "Open ledger positions.", acct, nil),
		clockSkew:     prometheus.NewDesc("gateway_clock_last_skew_seconds", "Skew reported by the last expired signature.", acct, nil),
		riskChecks:    prometheus.NewDesc("gateway_risk_checks_total", "Drawdown checks performed.", acct, nil),
		riskRejected:  prometheus.NewDesc("gateway_risk_rejections_total", "Positions rejected by the drawdown limit.", acct, nil),
		pollRuns:      prometheus.NewDesc("gateway_poll_runs_total", "Completed refresh polls.", acct, nil),
		pollSkipped:   prometheus.NewDesc("gateway_poll_skipped_total", "Polls skipped while a refresh was in flight.", acct, nil),
		busDropped:    prometheus.NewDesc("gateway_events_dropped_total", "Event deliveries dropped for slow subscribers.", acct, nil),
		poolSize:      prometheus.NewDesc("gateway_pool_size", "Live gateways.", nil, nil),
		poolUnhealthy: prometheus.NewDesc("gateway_pool_unhealthy", "Gateways with an open circuit.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.sessionState, c.drawdown, c.maxDrawdown, c.exposure, c.openPositions,
		c.clockSkew, c.riskChecks, c.riskRejected, c.pollRuns,
		c.pollSkipped, c.busDropped, c.poolSize, c.poolUnhealthy,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	for _, gw := range c.mgr.Gateways() {
		acct := gw.Account()
		current := gw.Session().State
		for _, s := range sessionStates {
			v := 0.0
			if s == current {
				v = 1
			}
			gauge(c.sessionState, v, acct, string(s))
		}

		m := gw.RiskMetrics()
		gauge(c.drawdown, m.CurrentDrawdownPct, acct)
		gauge(c.maxDrawdown, m.MaxDrawdownPct, acct)
		gauge(c.exposure, m.TotalExposure, acct)
		gauge(c.openPositions, float64(m.OpenPositions), acct)

		clk := gw.Clock()
		gauge(c.clockSkew, float64(clk.LastDetectedSkew), acct)

		rs := gw.Risk().Stats()
		counter(c.riskChecks, rs.ChecksTotal, acct)
		counter(c.riskRejected, rs.RejectionsTotal, acct)

		ps := gw.Balances()
		counter(c.pollRuns, ps.Runs, acct)
		counter(c.pollSkipped, ps.Skipped, acct)
		counter(c.busDropped, gw.Bus().Dropped(), acct)
	}

	ps := c.mgr.Stats()
	gauge(c.poolSize, float64(ps.TotalGateways))
	gauge(c.poolUnhealthy, float64(ps.UnhealthyCount))
}

// SystemSnapshot is the JSON view served at /api/system.
type SystemSnapshot struct {
	Pool           gateway.PoolStats `json:"gateway_pool"`
	Accounts       []string          `json:"accounts"`
	GoroutineCount int               `json:"goroutine_count"`
	HeapAlloc      uint64            `json:"heap_alloc_bytes"`
	HeapSys        uint64            `json:"heap_sys_bytes"`
	Uptime         string            `json:"uptime"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Snapshot returns a point-in-time process and pool view.
func Snapshot(mgr *gateway.Manager, started time.Time) SystemSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return SystemSnapshot{
		Pool:           mgr.Stats(),
		Accounts:       mgr.Accounts(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		HeapSys:        mem.HeapSys,
		Uptime:         time.Since(started).Truncate(time.Second).String(),
		Timestamp:      time.Now(),
	}
}
