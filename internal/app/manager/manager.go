package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/observability"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/config"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// DatabaseManager owns the active backend. Reads of the backend share mu;
// reconnect and disconnect take it exclusively. The health flag has its own
// lock so probes never wait on long queries.
type DatabaseManager struct {
	cfg     config.DatabaseConfig
	factory *Factory
	obs     ports.Observability

	mu     sync.RWMutex
	db     ports.Database
	closed bool

	healthMu sync.Mutex
	healthy  bool

	monMu          sync.Mutex
	monitor        *HealthMonitor
	healthInterval time.Duration
}

type Option func(*DatabaseManager)

func WithFactory(f *Factory) Option {
	return func(m *DatabaseManager) { m.factory = f }
}

func WithObservability(obs ports.Observability) Option {
	return func(m *DatabaseManager) { m.obs = obs }
}

// WithHealthInterval overrides Timeouts.HealthCheck as the monitor period.
func WithHealthInterval(d time.Duration) Option {
	return func(m *DatabaseManager) { m.healthInterval = d }
}

// NewDatabaseManager builds and connects the configured backend, then runs
// one health probe.
func NewDatabaseManager(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*DatabaseManager, error) {
	m := &DatabaseManager{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.obs == nil {
		m.obs = observability.NewNop()
	}
	if m.factory == nil {
		m.factory = NewFactory(m.obs)
	}
	if m.healthInterval <= 0 {
		m.healthInterval = cfg.Timeouts.HealthCheck()
	}
	if m.healthInterval <= 0 {
		m.healthInterval = 10 * time.Second
	}

	db, err := m.factory.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.db = db
	m.probe(ctx)
	return m, nil
}

func (m *DatabaseManager) Config() config.DatabaseConfig { return m.cfg }

func (m *DatabaseManager) IsHealthy() bool {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	return m.healthy
}

func (m *DatabaseManager) setHealthy(v bool) {
	m.healthMu.Lock()
	prev := m.healthy
	m.healthy = v
	m.healthMu.Unlock()

	if v {
		m.obs.SetGauge(ports.MetricBackendHealthy, 1)
	} else {
		m.obs.SetGauge(ports.MetricBackendHealthy, 0)
	}
	if prev && !v {
		m.obs.LogWarn("database_unhealthy", ports.Field{Key: "backend", Value: string(m.cfg.Backend)})
	} else if !prev && v {
		m.obs.LogInfo("database_healthy", ports.Field{Key: "backend", Value: string(m.cfg.Backend)})
	}
}

// HealthCheck probes the backend and updates the health flag.
func (m *DatabaseManager) HealthCheck(ctx context.Context) (domain.DatabaseHealth, error) {
	return m.probe(ctx)
}

func (m *DatabaseManager) probe(ctx context.Context) (domain.DatabaseHealth, error) {
	m.mu.RLock()
	db, closed := m.db, m.closed
	if closed || db == nil {
		m.mu.RUnlock()
		m.setHealthy(false)
		return domain.DegradedHealth(fmt.Errorf("%w: manager is shut down", domain.ErrConnection), 0), nil
	}
	probeCtx, cancel := withTimeout(ctx, m.cfg.Timeouts.HealthCheck())
	h, err := db.HealthCheck(probeCtx)
	connected := db.IsConnected()
	cancel()
	m.mu.RUnlock()

	m.setHealthy(err == nil && h.IsConnected && connected)
	return h, err
}

// HealthMonitor is the handle of a running background probe loop.
type HealthMonitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the loop and waits for it to exit. It is safe to call twice.
func (h *HealthMonitor) Stop() {
	h.cancel()
	<-h.done
}

func (h *HealthMonitor) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// StartHealthMonitoring probes the backend periodically. The loop only flips
// the health flag; it never reconnects. A second call returns the monitor
// already running.
func (m *DatabaseManager) StartHealthMonitoring(ctx context.Context) *HealthMonitor {
	m.monMu.Lock()
	defer m.monMu.Unlock()
	if m.monitor != nil && m.monitor.running() {
		return m.monitor
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &HealthMonitor{cancel: cancel, done: make(chan struct{})}
	m.monitor = h

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(m.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
	return h
}

// Reconnect builds a fresh backend and swaps it in. The old backend is
// disconnected after the swap.
func (m *DatabaseManager) Reconnect(ctx context.Context) error {
	fresh, err := m.factory.Create(ctx, m.cfg)
	if err != nil {
		m.obs.LogError("database_reconnect_failed", err, ports.Field{Key: "backend", Value: string(m.cfg.Backend)})
		return err
	}

	m.mu.Lock()
	old := m.db
	m.db = fresh
	m.closed = false
	m.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			m.obs.LogWarn("database_disconnect_old_failed", ports.Field{Key: "error", Value: err.Error()})
		}
	}
	m.setHealthy(true)
	m.obs.LogInfo("database_reconnected", ports.Field{Key: "backend", Value: fresh.DatabaseType()})
	return nil
}

// Shutdown stops the monitor and disconnects the backend. Repeated calls
// return nil.
func (m *DatabaseManager) Shutdown(ctx context.Context) error {
	m.monMu.Lock()
	mon := m.monitor
	m.monitor = nil
	m.monMu.Unlock()
	if mon != nil {
		mon.Stop()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	db := m.db
	m.mu.Unlock()

	var err error
	if db != nil {
		ctx, cancel := withTimeout(ctx, m.cfg.Timeouts.Connection())
		err = errors.Join(err, db.Disconnect(ctx))
		cancel()
	}
	m.setHealthy(false)
	m.obs.LogInfo("database_shutdown", ports.Field{Key: "backend", Value: string(m.cfg.Backend)})
	return err
}

// Database returns a view of the managed backend that survives reconnects.
func (m *DatabaseManager) Database() ports.Database {
	return &guarded{m: m}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
