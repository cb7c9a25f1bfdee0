package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// guarded forwards every call to the manager's current backend and bounds
// it with the configured timeout. Reads share the lock; writes hold it
// exclusively.
type guarded struct {
	m *DatabaseManager
}

func call[T any](g *guarded, ctx context.Context, d time.Duration, fn func(context.Context, ports.Database) (T, error)) (T, error) {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	ctx, cancel := withTimeout(ctx, d)
	defer cancel()
	v, err := fn(ctx, g.m.db)
	return v, asTimeout(err)
}

func callWrite[T any](g *guarded, ctx context.Context, d time.Duration, fn func(context.Context, ports.Database) (T, error)) (T, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	ctx, cancel := withTimeout(ctx, d)
	defer cancel()
	v, err := fn(ctx, g.m.db)
	return v, asTimeout(err)
}

func exec(g *guarded, ctx context.Context, d time.Duration, fn func(context.Context, ports.Database) error) error {
	_, err := callWrite(g, ctx, d, func(ctx context.Context, db ports.Database) (struct{}, error) {
		return struct{}{}, fn(ctx, db)
	})
	return err
}

func asTimeout(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}

func (g *guarded) query() time.Duration { return g.m.cfg.Timeouts.Query() }
func (g *guarded) txn() time.Duration   { return g.m.cfg.Timeouts.Transaction() }

func (g *guarded) observe(metric string, start time.Time) {
	g.m.obs.ObserveLatency(metric, time.Since(start).Seconds())
}

// Connect and Disconnect change the backend state and take the exclusive lock.
// Connect is refused after Shutdown; Reconnect brings the manager back.
func (g *guarded) Connect(ctx context.Context) error {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if g.m.closed {
		return fmt.Errorf("%w: manager is shut down, reconnect instead", domain.ErrConnection)
	}
	ctx, cancel := withTimeout(ctx, g.m.cfg.Timeouts.Connection())
	defer cancel()
	return asTimeout(g.m.db.Connect(ctx))
}

func (g *guarded) Disconnect(ctx context.Context) error {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	ctx, cancel := withTimeout(ctx, g.m.cfg.Timeouts.Connection())
	defer cancel()
	return asTimeout(g.m.db.Disconnect(ctx))
}

func (g *guarded) IsConnected() bool {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return !g.m.closed && g.m.db.IsConnected()
}

func (g *guarded) HealthCheck(ctx context.Context) (domain.DatabaseHealth, error) {
	return g.m.probe(ctx)
}

func (g *guarded) DatabaseType() string {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return g.m.db.DatabaseType()
}

func (g *guarded) ConnectionInfo() string {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return g.m.db.ConnectionInfo()
}

func (g *guarded) StoreReading(ctx context.Context, r *domain.SensorReading) error {
	start := time.Now()
	err := exec(g, ctx, g.query(), func(ctx context.Context, db ports.Database) error {
		return db.StoreReading(ctx, r)
	})
	g.observe(ports.MetricStoreLatency, start)
	if err == nil {
		g.m.obs.IncCounter(ports.MetricReadingsStored, 1)
	}
	return err
}

func (g *guarded) StoreBatch(ctx context.Context, b *domain.SensorBatch) error {
	start := time.Now()
	err := exec(g, ctx, g.txn(), func(ctx context.Context, db ports.Database) error {
		return db.StoreBatch(ctx, b)
	})
	g.observe(ports.MetricStoreLatency, start)
	if err == nil && b != nil {
		g.m.obs.IncCounter(ports.MetricReadingsStored, float64(len(b.Readings)))
	}
	return err
}

func (g *guarded) QueryReadings(ctx context.Context, q domain.SensorQuery) ([]*domain.SensorReading, error) {
	defer g.observe(ports.MetricQueryLatency, time.Now())
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) ([]*domain.SensorReading, error) {
		return db.QueryReadings(ctx, q)
	})
}

func (g *guarded) GetReadingAtTime(ctx context.Context, sensorID string, tsUS int64) (*domain.SensorReading, error) {
	defer g.observe(ports.MetricQueryLatency, time.Now())
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) (*domain.SensorReading, error) {
		return db.GetReadingAtTime(ctx, sensorID, tsUS)
	})
}

func (g *guarded) GetTimeRange(ctx context.Context, sensorID string) (*domain.TimeRange, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) (*domain.TimeRange, error) {
		return db.GetTimeRange(ctx, sensorID)
	})
}

func (g *guarded) GetGlobalTimeRange(ctx context.Context) (*domain.TimeRange, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) (*domain.TimeRange, error) {
		return db.GetGlobalTimeRange(ctx)
	})
}

func (g *guarded) ListSensors(ctx context.Context) ([]string, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) ([]string, error) {
		return db.ListSensors(ctx)
	})
}

func (g *guarded) GetSensorStatistics(ctx context.Context, sensorID string) (*domain.SensorStatistics, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) (*domain.SensorStatistics, error) {
		return db.GetSensorStatistics(ctx, sensorID)
	})
}

func (g *guarded) DeleteReadings(ctx context.Context, sensorID string, startUS, endUS int64) (int64, error) {
	return callWrite(g, ctx, g.txn(), func(ctx context.Context, db ports.Database) (int64, error) {
		return db.DeleteReadings(ctx, sensorID, startUS, endUS)
	})
}

func (g *guarded) Downsample(ctx context.Context, sensorID string, startUS, endUS, intervalUS int64) ([]*domain.SensorReading, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) ([]*domain.SensorReading, error) {
		return db.Downsample(ctx, sensorID, startUS, endUS, intervalUS)
	})
}

func (g *guarded) Interpolate(ctx context.Context, sensorID string, timestampsUS []int64) ([]*domain.SensorReading, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) ([]*domain.SensorReading, error) {
		return db.Interpolate(ctx, sensorID, timestampsUS)
	})
}

func (g *guarded) Aggregate(ctx context.Context, sensorID string, startUS, endUS, windowUS int64) ([]domain.SensorStatistics, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) ([]domain.SensorStatistics, error) {
		return db.Aggregate(ctx, sensorID, startUS, endUS, windowUS)
	})
}

func (g *guarded) DetectGaps(ctx context.Context, sensorID string, startUS, endUS, maxGapUS int64) ([]domain.TimeRange, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) ([]domain.TimeRange, error) {
		return db.DetectGaps(ctx, sensorID, startUS, endUS, maxGapUS)
	})
}

func (g *guarded) StoreSensorMetadata(ctx context.Context, md *domain.SensorMetadata) error {
	return exec(g, ctx, g.query(), func(ctx context.Context, db ports.Database) error {
		return db.StoreSensorMetadata(ctx, md)
	})
}

func (g *guarded) GetSensorMetadata(ctx context.Context, sensorID string) (*domain.SensorMetadata, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) (*domain.SensorMetadata, error) {
		return db.GetSensorMetadata(ctx, sensorID)
	})
}

func (g *guarded) ListSensorMetadata(ctx context.Context) ([]*domain.SensorMetadata, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) ([]*domain.SensorMetadata, error) {
		return db.ListSensorMetadata(ctx)
	})
}

func (g *guarded) UpdateSensorMetadata(ctx context.Context, md *domain.SensorMetadata) error {
	return exec(g, ctx, g.query(), func(ctx context.Context, db ports.Database) error {
		return db.UpdateSensorMetadata(ctx, md)
	})
}

func (g *guarded) DeleteSensorMetadata(ctx context.Context, sensorID string) error {
	return exec(g, ctx, g.query(), func(ctx context.Context, db ports.Database) error {
		return db.DeleteSensorMetadata(ctx, sensorID)
	})
}

func (g *guarded) StoreConfig(ctx context.Context, key string, value json.RawMessage) error {
	return exec(g, ctx, g.query(), func(ctx context.Context, db ports.Database) error {
		return db.StoreConfig(ctx, key, value)
	})
}

func (g *guarded) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) (json.RawMessage, error) {
		return db.GetConfig(ctx, key)
	})
}

func (g *guarded) ListConfigKeys(ctx context.Context) ([]string, error) {
	return call(g, ctx, g.query(), func(ctx context.Context, db ports.Database) ([]string, error) {
		return db.ListConfigKeys(ctx)
	})
}

func (g *guarded) DeleteConfig(ctx context.Context, key string) error {
	return exec(g, ctx, g.query(), func(ctx context.Context, db ports.Database) error {
		return db.DeleteConfig(ctx, key)
	})
}

func (g *guarded) SupportedFeatures() ports.DatabaseFeatures {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return g.m.db.SupportedFeatures()
}

func (g *guarded) Optimize(ctx context.Context) error {
	return exec(g, ctx, g.txn(), func(ctx context.Context, db ports.Database) error {
		return db.Optimize(ctx)
	})
}

func (g *guarded) Backup(ctx context.Context, destination string) error {
	_, err := call(g, ctx, g.txn(), func(ctx context.Context, db ports.Database) (struct{}, error) {
		return struct{}{}, db.Backup(ctx, destination)
	})
	return err
}

func (g *guarded) Restore(ctx context.Context, source string) error {
	return exec(g, ctx, g.txn(), func(ctx context.Context, db ports.Database) error {
		return db.Restore(ctx, source)
	})
}

// StreamingProvider and TransactionProvider hand out the current backend's
// provider directly: subscriptions and transactions outlive a single call
// and must not inherit a per-call deadline.
func (g *guarded) StreamingProvider() ports.StreamingProvider {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return g.m.db.StreamingProvider()
}

func (g *guarded) TransactionProvider() ports.TransactionProvider {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return g.m.db.TransactionProvider()
}

var _ ports.Database = (*guarded)(nil)
