package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-gateway/internal/session"
	"trading-gateway/pkg/credentials"
	"trading-gateway/pkg/exchanges/common"
)

var (
	ErrGatewayUnhealthy = errors.New("gateway is unhealthy")
	ErrPoolFull         = errors.New("gateway pool is full")
)

// Factory builds a gateway for an account.
type Factory func(account string, cred common.Credential) (*Gateway, error)

// ManagerConfig tunes the manager.
type ManagerConfig struct {
	MaxSize          int           // maximum number of gateways
	HealthInterval   time.Duration // interval between health checks
	FailureThreshold int           // consecutive failures before the circuit opens
	CircuitTimeout   time.Duration // time before an unhealthy gateway is retried
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSize:          16,
		HealthInterval:   time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   5 * time.Minute,
	}
}

type entry struct {
	gw        *Gateway
	createdAt time.Time
	lastUsed  time.Time
	healthyAt time.Time
	failures  int
}

// Manager holds one Gateway per account, built on first use.
type Manager struct {
	mu       sync.RWMutex
	gateways map[string]*entry

	cfg     ManagerConfig
	source  credentials.Source
	factory Factory
	logger  zerolog.Logger
	now     func() time.Time

	// onCreate runs for every new gateway (journal, metrics wiring).
	onCreate []func(*Gateway)

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewManager creates a manager.
func NewManager(source credentials.Source, factory Factory, cfg ManagerConfig, logger zerolog.Logger) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultManagerConfig().MaxSize
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultManagerConfig().FailureThreshold
	}
	return &Manager{
		gateways: make(map[string]*entry),
		cfg:      cfg,
		source:   source,
		factory:  factory,
		logger:   logger.With().Str("component", "gateway_manager").Logger(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// OnCreate registers a hook run for every gateway the manager builds.
func (m *Manager) OnCreate(fn func(*Gateway)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCreate = append(m.onCreate, fn)
}

// Start runs periodic health checks until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.HealthInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.HealthCheck(ctx)
			}
		}
	}()
}

// Stop ends health checks and closes every gateway.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, e := range m.gateways {
		_ = e.gw.Close()
		delete(m.gateways, name)
	}
}

// Get returns the gateway for account, creating it on first use.
func (m *Manager) Get(ctx context.Context, account string) (*Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.gateways[account]; ok {
		if e.failures >= m.cfg.FailureThreshold && m.now().Sub(e.healthyAt) < m.cfg.CircuitTimeout {
			return nil, fmt.Errorf("%s: %w", account, ErrGatewayUnhealthy)
		}
		e.lastUsed = m.now()
		return e.gw, nil
	}

	if len(m.gateways) >= m.cfg.MaxSize {
		return nil, ErrPoolFull
	}

	cred, err := m.source.Load(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s: %w", account, err)
	}
	gw, err := m.factory(account, cred)
	if err != nil {
		return nil, fmt.Errorf("create gateway %s: %w", account, err)
	}
	now := m.now()
	m.gateways[account] = &entry{gw: gw, createdAt: now, lastUsed: now, healthyAt: now}
	for _, fn := range m.onCreate {
		fn(gw)
	}
	m.logger.Info().Str("account", account).Str("api_key", cred.KeyHint()).Msg("gateway created")
	return gw, nil
}

// Remove closes and forgets account's gateway.
func (m *Manager) Remove(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.gateways[account]; ok {
		_ = e.gw.Close()
		delete(m.gateways, account)
	}
}

// Accounts lists the accounts with a live gateway.
func (m *Manager) Accounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.gateways))
	for name := range m.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Gateways returns the live gateways ordered by account.
func (m *Manager) Gateways() []*Gateway {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Gateway, 0, len(m.gateways))
	for _, e := range m.gateways {
		out = append(out, e.gw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account() < out[j].Account() })
	return out
}

// HealthCheck probes every gateway once. An authentication rejection also
// stops that gateway's session.
func (m *Manager) HealthCheck(ctx context.Context) {
	m.mu.RLock()
	targets := make(map[string]*Gateway, len(m.gateways))
	for name, e := range m.gateways {
		targets[name] = e.gw
	}
	m.mu.RUnlock()

	for name, gw := range targets {
		err := gw.Health(ctx)
		if err != nil {
			m.RecordFailure(name)
			m.logger.Warn().Err(err).Str("account", name).Msg("health check failed")
			if errors.Is(err, common.ErrAuthenticationRejected) && gw.Session().State == session.StateActive {
				gw.Stop("health check: " + string(common.KindOf(err)))
			}
			continue
		}
		m.RecordSuccess(name)
	}
}

// RecordFailure counts a failure against account.
func (m *Manager) RecordFailure(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.gateways[account]; ok {
		e.failures++
	}
}

// RecordSuccess resets account's failure counter.
func (m *Manager) RecordSuccess(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.gateways[account]; ok {
		e.failures = 0
		e.healthyAt = m.now()
	}
}

// PoolStats summarizes the pool.
type PoolStats struct {
	TotalGateways  int            `json:"total_gateways"`
	MaxSize        int            `json:"max_size"`
	UnhealthyCount int            `json:"unhealthy_count"`
	ByState        map[string]int `json:"by_state"`
}

// Stats returns current pool statistics.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := PoolStats{TotalGateways: len(m.gateways), MaxSize: m.cfg.MaxSize, ByState: make(map[string]int)}
	for _, e := range m.gateways {
		s.ByState[string(e.gw.Session().State)]++
		if e.failures >= m.cfg.FailureThreshold {
			s.UnhealthyCount++
		}
	}
	return s
}
