package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const (
	backendName = "mock"
	// DefaultGapThresholdUS is the spacing above which consecutive readings
	// count as a gap in sensor statistics.
	DefaultGapThresholdUS int64 = 1_000_000
)

// Backend is the in-memory reference implementation of ports.Database.
// Readings are kept in insertion order so ties resolve to the first one seen.
type Backend struct {
	mu        sync.RWMutex
	connected bool
	readings  []*domain.SensorReading
	metadata  map[string]*domain.SensorMetadata
	config    map[string]json.RawMessage

	features ports.DatabaseFeatures
	info     string
	hub      *hub
}

type Option func(*Backend)

// WithFeatures narrows the advertised feature set. Operations outside it
// fail with domain.ErrUnsupportedOperation.
func WithFeatures(f ports.DatabaseFeatures) Option {
	return func(b *Backend) { b.features = f }
}

func WithConnectionInfo(info string) Option {
	return func(b *Backend) { b.info = info }
}

func New(opts ...Option) *Backend {
	b := &Backend{
		metadata: make(map[string]*domain.SensorMetadata),
		config:   make(map[string]json.RawMessage),
		features: ports.FullFeatures(),
		info:     "mock://localhost/test",
		hub:      newHub(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.hub.closeAll()
	return nil
}

func (b *Backend) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *Backend) HealthCheck(ctx context.Context) (domain.DatabaseHealth, error) {
	start := time.Now()
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()

	conns := 1
	h := domain.DatabaseHealth{
		IsConnected:       connected,
		LatencyMS:         float64(time.Since(start).Microseconds()) / 1000,
		Version:           "memory",
		ActiveConnections: &conns,
		LastCheck:         time.Now().UTC(),
	}
	if !connected {
		h.Error = "not connected"
	}
	return h, nil
}

func (b *Backend) DatabaseType() string { return backendName }

func (b *Backend) ConnectionInfo() string { return b.info }

func (b *Backend) checkConnectedLocked() error {
	if !b.connected {
		return fmt.Errorf("%w: %s backend is not connected", domain.ErrConnection, backendName)
	}
	return nil
}

func (b *Backend) StoreReading(ctx context.Context, r *domain.SensorReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	if err := b.checkConnectedLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	stored := r.Clone()
	b.readings = append(b.readings, stored)
	b.mu.Unlock()

	b.hub.broadcast(stored)
	return nil
}

func (b *Backend) StoreBatch(ctx context.Context, batch *domain.SensorBatch) error {
	if batch == nil || len(batch.Readings) == 0 {
		return nil
	}
	if err := b.features.CheckBatch(len(batch.Readings)); err != nil {
		return err
	}
	clones := make([]*domain.SensorReading, 0, len(batch.Readings))
	for _, r := range batch.Readings {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("batch %s: %w", batch.BatchID, err)
		}
		clones = append(clones, r.Clone())
	}

	b.mu.Lock()
	if err := b.checkConnectedLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.readings = append(b.readings, clones...)
	b.mu.Unlock()

	for _, r := range clones {
		b.hub.broadcast(r)
	}
	return nil
}

func (b *Backend) QueryReadings(ctx context.Context, q domain.SensorQuery) ([]*domain.SensorReading, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.DownsampleIntervalUS > 0 && !b.features.Downsampling {
		return nil, ports.Unsupported(backendName, "downsample")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}

	out := make([]*domain.SensorReading, 0)
	for _, r := range b.readings {
		if !q.MatchesSensor(r.SensorID) {
			continue
		}
		if !q.MatchesTime(r.TimestampUS) {
			continue
		}
		if !q.MatchesQuality(r.Quality) {
			continue
		}
		if !q.MatchesDataType(r.DataType.Kind) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampUS < out[j].TimestampUS })

	if q.DownsampleIntervalUS > 0 {
		out = domain.DownsampleSorted(out, q.DownsampleIntervalUS)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return cloneAll(out), nil
}

func (b *Backend) GetReadingAtTime(ctx context.Context, sensorID string, tsUS int64) (*domain.SensorReading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}

	var (
		best     *domain.SensorReading
		bestDist uint64
	)
	for _, r := range b.readings {
		if r.SensorID != sensorID {
			continue
		}
		d := absDiff(r.TimestampUS, tsUS)
		if best == nil || d < bestDist {
			best, bestDist = r, d
		}
	}
	return best.Clone(), nil
}

func (b *Backend) GetTimeRange(ctx context.Context, sensorID string) (*domain.TimeRange, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}
	return domain.ComputeTimeRange(b.sensorReadingsLocked(sensorID)), nil
}

func (b *Backend) GetGlobalTimeRange(ctx context.Context) (*domain.TimeRange, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}
	return domain.ComputeTimeRange(b.readings), nil
}

func (b *Backend) ListSensors(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range b.readings {
		if _, ok := seen[r.SensorID]; ok {
			continue
		}
		seen[r.SensorID] = struct{}{}
		out = append(out, r.SensorID)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) GetSensorStatistics(ctx context.Context, sensorID string) (*domain.SensorStatistics, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}
	readings := b.sensorReadingsLocked(sensorID)
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSensorNotFound, sensorID)
	}
	stats := domain.ComputeStatistics(sensorID, readings, DefaultGapThresholdUS)
	return &stats, nil
}

func (b *Backend) DeleteReadings(ctx context.Context, sensorID string, startUS, endUS int64) (int64, error) {
	if startUS > endUS {
		return 0, fmt.Errorf("%w: start %d after end %d", domain.ErrTimeRange, startUS, endUS)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkConnectedLocked(); err != nil {
		return 0, err
	}

	kept := b.readings[:0]
	var removed int64
	for _, r := range b.readings {
		if r.SensorID == sensorID && r.TimestampUS >= startUS && r.TimestampUS <= endUS {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(b.readings); i++ {
		b.readings[i] = nil
	}
	b.readings = kept
	return removed, nil
}

func (b *Backend) SupportedFeatures() ports.DatabaseFeatures { return b.features }

// Optimize compacts the reading slice.
func (b *Backend) Optimize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkConnectedLocked(); err != nil {
		return err
	}
	compact := make([]*domain.SensorReading, len(b.readings))
	copy(compact, b.readings)
	b.readings = compact
	return nil
}

func (b *Backend) StreamingProvider() ports.StreamingProvider {
	if !b.features.Streaming {
		return nil
	}
	return &streamer{b: b}
}

func (b *Backend) TransactionProvider() ports.TransactionProvider {
	if !b.features.Transactions {
		return nil
	}
	return &txProvider{b: b}
}

// sensorReadingsLocked returns the sensor's readings in insertion order.
func (b *Backend) sensorReadingsLocked(sensorID string) []*domain.SensorReading {
	var out []*domain.SensorReading
	for _, r := range b.readings {
		if r.SensorID == sensorID {
			out = append(out, r)
		}
	}
	return out
}

func cloneAll(in []*domain.SensorReading) []*domain.SensorReading {
	out := make([]*domain.SensorReading, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

func absDiff(a, b int64) uint64 {
	if a > b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}

var _ ports.Database = (*Backend)(nil)
