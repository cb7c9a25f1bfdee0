package manager

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/memory"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/observability"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/postgres"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/redis"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/config"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// Builder constructs an unconnected backend for cfg.
type Builder func(cfg config.DatabaseConfig) (ports.Database, error)

// closer is implemented by backends that hold a pool or client before
// Connect succeeds.
type closer interface {
	Close() error
}

// Factory turns a DatabaseConfig into a connected backend.
type Factory struct {
	mu       sync.RWMutex
	builders map[config.BackendType]Builder
	obs      ports.Observability
}

// NewFactory registers the backends compiled into this binary. InfluxDB is
// not among them.
func NewFactory(obs ports.Observability) *Factory {
	if obs == nil {
		obs = observability.NewNop()
	}
	f := &Factory{builders: make(map[config.BackendType]Builder), obs: obs}
	f.Register(config.BackendMock, buildMemory)
	f.Register(config.BackendPostgreSQL, buildPostgres)
	f.Register(config.BackendRedis, buildRedis)
	f.Register(config.BackendSQLite, f.buildSQLiteFallback)
	return f
}

// Register installs or replaces the builder for kind.
func (f *Factory) Register(kind config.BackendType, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[kind] = b
}

func (f *Factory) Create(ctx context.Context, cfg config.DatabaseConfig) (ports.Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	build, ok := f.builders[cfg.Backend]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s backend is not available in this build", domain.ErrFeatureNotSupported, cfg.Backend)
	}

	db, err := build(cfg)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := withTimeout(ctx, cfg.Timeouts.Connection())
	defer cancel()
	if err := db.Connect(connectCtx); err != nil {
		if c, ok := db.(closer); ok {
			if cerr := c.Close(); cerr != nil {
				f.obs.LogWarn("database_release_failed", ports.Field{Key: "error", Value: cerr.Error()})
			}
		}
		return nil, err
	}

	f.obs.LogInfo("database_connected",
		ports.Field{Key: "backend", Value: db.DatabaseType()},
		ports.Field{Key: "target", Value: db.ConnectionInfo()},
	)
	return db, nil
}

func buildMemory(cfg config.DatabaseConfig) (ports.Database, error) {
	return memory.New(memory.WithConnectionInfo(cfg.ConnectionInfo())), nil
}

func (f *Factory) buildSQLiteFallback(cfg config.DatabaseConfig) (ports.Database, error) {
	f.obs.LogWarn("sqlite_backend_not_implemented",
		ports.Field{Key: "fallback", Value: string(config.BackendMock)},
		ports.Field{Key: "path", Value: cfg.Connection.Database},
	)
	return memory.New(memory.WithConnectionInfo(cfg.ConnectionInfo())), nil
}

func buildPostgres(cfg config.DatabaseConfig) (ports.Database, error) {
	dsn, err := cfg.ConnectionString()
	if err != nil {
		return nil, err
	}
	b, err := postgres.Open(postgres.Options{
		DSN:             dsn,
		Info:            cfg.ConnectionInfo(),
		MaxOpenConns:    cfg.Pool.MaxConnections,
		MaxIdleConns:    cfg.Pool.MinConnections,
		ConnMaxLifetime: cfg.Pool.MaxLifetime(),
		ConnMaxIdleTime: cfg.Pool.MaxIdle(),
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func buildRedis(cfg config.DatabaseConfig) (ports.Database, error) {
	db, err := cfg.RedisDB()
	if err != nil {
		return nil, err
	}
	return redis.Open(redis.Options{
		Addr:         net.JoinHostPort(cfg.Connection.Host, strconv.Itoa(cfg.Connection.Port)),
		Password:     cfg.Connection.Password,
		DB:           db,
		Info:         cfg.ConnectionInfo(),
		PoolSize:     cfg.Pool.MaxConnections,
		MinIdleConns: cfg.Pool.MinConnections,
		DialTimeout:  cfg.Timeouts.Connection(),
		PoolTimeout:  cfg.Pool.AcquireTimeout(),
		IdleTimeout:  cfg.Pool.MaxIdle(),
		MaxConnAge:   cfg.Pool.MaxLifetime(),
	}), nil
}
