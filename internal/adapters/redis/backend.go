package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const (
	backendName = "redis"

	sensorsKey  = "sensors"
	bytesKey    = "sensor_bytes"
	metadataKey = "sensor_metadata"
	configKey   = "config_store"
)

// Options configure the client. Info is the redacted form reported by
// ConnectionInfo.
type Options struct {
	Addr           string
	Password       string
	DB             int
	Info           string
	PoolSize       int
	MinIdleConns   int
	DialTimeout    time.Duration
	PoolTimeout    time.Duration
	IdleTimeout    time.Duration
	MaxConnAge     time.Duration
	GapThresholdUS int64
}

// Backend keeps each sensor's readings in a sorted set scored by timestamp
// (sensor:<id>:readings) and announces stored readings on sensor:<id>:live.
type Backend struct {
	mu        sync.RWMutex
	client    *goredis.Client
	connected bool
	opts      Options
	features  ports.DatabaseFeatures

	subsMu sync.Mutex
	subs   map[*subscription]struct{}
}

// Open builds a client for opts.Addr. No connection is made until Connect.
func Open(opts Options) *Backend {
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		PoolTimeout:  opts.PoolTimeout,
		IdleTimeout:  opts.IdleTimeout,
		MaxConnAge:   opts.MaxConnAge,
	})
	return New(client, opts)
}

// New wraps an existing client.
func New(client *goredis.Client, opts Options) *Backend {
	if opts.GapThresholdUS <= 0 {
		opts.GapThresholdUS = 1_000_000
	}
	if opts.Info == "" {
		opts.Info = "redis://" + opts.Addr
	}
	return &Backend{
		client:   client,
		opts:     opts,
		features: Features(),
		subs:     make(map[*subscription]struct{}),
	}
}

// Features lists what the Redis backend serves.
func Features() ports.DatabaseFeatures {
	f := ports.BasicFeatures()
	f.Streaming = true
	f.Transactions = true
	f.SupportedDataTypes = ports.FullFeatures().SupportedDataTypes
	return f
}

func readingsKey(sensorID string) string { return "sensor:" + sensorID + ":readings" }

func liveChannel(sensorID string) string { return "sensor:" + sensorID + ":live" }

func (b *Backend) Connect(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return classify(domain.ErrConnection, "ping", err)
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

// Close releases the client whether or not Connect succeeded.
func (b *Backend) Close() error {
	if b.IsConnected() {
		return b.Disconnect(context.Background())
	}
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("%w: close client: %v", domain.ErrConnection, err)
	}
	return nil
}

func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	b.mu.Unlock()

	b.subsMu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subsMu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}

	if err := b.client.Close(); err != nil {
		return fmt.Errorf("%w: close client: %v", domain.ErrConnection, err)
	}
	return nil
}

func (b *Backend) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *Backend) HealthCheck(ctx context.Context) (domain.DatabaseHealth, error) {
	start := time.Now()
	if !b.IsConnected() {
		return domain.DegradedHealth(errors.New("not connected"), time.Since(start)), nil
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return domain.DegradedHealth(err, time.Since(start)), nil
	}
	conns := int(b.client.PoolStats().TotalConns)
	return domain.DatabaseHealth{
		IsConnected:       true,
		LatencyMS:         float64(time.Since(start).Microseconds()) / 1000,
		Version:           "redis",
		ActiveConnections: &conns,
		LastCheck:         time.Now().UTC(),
	}, nil
}

func (b *Backend) DatabaseType() string { return backendName }

func (b *Backend) ConnectionInfo() string { return b.opts.Info }

func (b *Backend) SupportedFeatures() ports.DatabaseFeatures { return b.features }

func (b *Backend) checkConnected() error {
	if !b.IsConnected() {
		return fmt.Errorf("%w: %s backend is not connected", domain.ErrConnection, backendName)
	}
	return nil
}

func (b *Backend) StoreReading(ctx context.Context, r *domain.SensorReading) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	return b.write(ctx, []*domain.SensorReading{r})
}

func (b *Backend) StoreBatch(ctx context.Context, batch *domain.SensorBatch) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if batch == nil || len(batch.Readings) == 0 {
		return nil
	}
	if err := b.features.CheckBatch(len(batch.Readings)); err != nil {
		return err
	}
	for _, r := range batch.Readings {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return b.write(ctx, batch.Readings)
}

// write stores readings in one MULTI/EXEC block and announces each on its
// live channel.
func (b *Backend) write(ctx context.Context, readings []*domain.SensorReading) error {
	encoded := make([][]byte, len(readings))
	for i, r := range readings {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("%w: encode reading: %v", domain.ErrSerialization, err)
		}
		encoded[i] = raw
	}

	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, r := range readings {
			pipe.ZAdd(ctx, readingsKey(r.SensorID), &goredis.Z{Score: float64(r.TimestampUS), Member: encoded[i]})
			pipe.SAdd(ctx, sensorsKey, r.SensorID)
			pipe.HIncrBy(ctx, bytesKey, r.SensorID, int64(len(r.Payload)))
		}
		return nil
	})
	if err != nil {
		return classify(domain.ErrWrite, "store readings", err)
	}

	for i, r := range readings {
		if err := b.client.Publish(ctx, liveChannel(r.SensorID), encoded[i]).Err(); err != nil {
			return classify(domain.ErrWrite, "publish reading", err)
		}
	}
	return nil
}

func (b *Backend) sensors(ctx context.Context) ([]string, error) {
	ids, err := b.client.SMembers(ctx, sensorsKey).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "list sensors", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *Backend) rangeReadings(ctx context.Context, sensorID string, by *goredis.ZRangeBy) ([]*domain.SensorReading, error) {
	members, err := b.client.ZRangeByScore(ctx, readingsKey(sensorID), by).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "range readings", err)
	}
	return decodeAll(members)
}

func scoreRange(startUS, endUS int64) *goredis.ZRangeBy {
	return &goredis.ZRangeBy{
		Min: strconv.FormatInt(startUS, 10),
		Max: strconv.FormatInt(endUS, 10),
	}
}

func decodeAll(members []string) ([]*domain.SensorReading, error) {
	out := make([]*domain.SensorReading, 0, len(members))
	for _, m := range members {
		var r domain.SensorReading
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, fmt.Errorf("%w: decode reading: %v", domain.ErrSerialization, err)
		}
		if r.Metadata == nil {
			r.Metadata = make(map[string]any)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (b *Backend) QueryReadings(ctx context.Context, q domain.SensorQuery) ([]*domain.SensorReading, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.DownsampleIntervalUS > 0 {
		return nil, ports.Unsupported(backendName, "downsample")
	}

	ids := q.SensorIDs
	if len(ids) == 0 {
		var err error
		if ids, err = b.sensors(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]*domain.SensorReading, 0)
	for _, id := range ids {
		readings, err := b.rangeReadings(ctx, id, scoreRange(q.StartTimeUS, q.EndTimeUS))
		if err != nil {
			return nil, err
		}
		for _, r := range readings {
			if q.MatchesQuality(r.Quality) && q.MatchesDataType(r.DataType.Kind) {
				out = append(out, r)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampUS < out[j].TimestampUS })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetReadingAtTime compares the closest reading at or before tsUS with the
// closest one after it. Ties go to the earlier reading.
func (b *Backend) GetReadingAtTime(ctx context.Context, sensorID string, tsUS int64) (*domain.SensorReading, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	key := readingsKey(sensorID)
	ts := strconv.FormatInt(tsUS, 10)

	before, err := b.client.ZRevRangeByScore(ctx, key, &goredis.ZRangeBy{Max: ts, Min: "-inf", Count: 1}).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "nearest reading", err)
	}
	after, err := b.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{Min: "(" + ts, Max: "+inf", Count: 1}).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "nearest reading", err)
	}
	candidates, err := decodeAll(append(before, after...))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if absDiff(c.TimestampUS, tsUS) < absDiff(best.TimestampUS, tsUS) {
			best = c
		}
	}
	return best, nil
}

func (b *Backend) GetTimeRange(ctx context.Context, sensorID string) (*domain.TimeRange, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	key := readingsKey(sensorID)
	count, err := b.client.ZCard(ctx, key).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "time range", err)
	}
	if count == 0 {
		return nil, nil
	}
	first, err := b.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "time range", err)
	}
	last, err := b.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "time range", err)
	}
	size, err := b.client.HGet(ctx, bytesKey, sensorID).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, classify(domain.ErrRead, "time range", err)
	}
	return &domain.TimeRange{
		StartTimeUS:   int64(first[0].Score),
		EndTimeUS:     int64(last[0].Score),
		ReadingCount:  count,
		DataSizeBytes: size,
	}, nil
}

func (b *Backend) GetGlobalTimeRange(ctx context.Context) (*domain.TimeRange, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	ids, err := b.sensors(ctx)
	if err != nil {
		return nil, err
	}
	var global *domain.TimeRange
	for _, id := range ids {
		tr, err := b.GetTimeRange(ctx, id)
		if err != nil {
			return nil, err
		}
		if tr == nil {
			continue
		}
		if global == nil {
			cp := *tr
			global = &cp
			continue
		}
		if tr.StartTimeUS < global.StartTimeUS {
			global.StartTimeUS = tr.StartTimeUS
		}
		if tr.EndTimeUS > global.EndTimeUS {
			global.EndTimeUS = tr.EndTimeUS
		}
		global.ReadingCount += tr.ReadingCount
		global.DataSizeBytes += tr.DataSizeBytes
	}
	return global, nil
}

func (b *Backend) ListSensors(ctx context.Context) ([]string, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	return b.sensors(ctx)
}

func (b *Backend) GetSensorStatistics(ctx context.Context, sensorID string) (*domain.SensorStatistics, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	readings, err := b.rangeReadings(ctx, sensorID, &goredis.ZRangeBy{Min: "-inf", Max: "+inf"})
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSensorNotFound, sensorID)
	}
	stats := domain.ComputeStatistics(sensorID, readings, b.opts.GapThresholdUS)
	return &stats, nil
}

func (b *Backend) DeleteReadings(ctx context.Context, sensorID string, startUS, endUS int64) (int64, error) {
	if err := b.checkConnected(); err != nil {
		return 0, err
	}
	key := readingsKey(sensorID)
	doomed, err := b.rangeReadings(ctx, sensorID, scoreRange(startUS, endUS))
	if err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	var freed int64
	for _, r := range doomed {
		freed += int64(len(r.Payload))
	}

	var removed *goredis.IntCmd
	var remaining *goredis.IntCmd
	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.ZRemRangeByScore(ctx, key, strconv.FormatInt(startUS, 10), strconv.FormatInt(endUS, 10))
		pipe.HIncrBy(ctx, bytesKey, sensorID, -freed)
		remaining = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, classify(domain.ErrWrite, "delete readings", err)
	}
	if remaining.Val() == 0 {
		if err := b.client.SRem(ctx, sensorsKey, sensorID).Err(); err != nil {
			return 0, classify(domain.ErrWrite, "delete readings", err)
		}
		b.client.HDel(ctx, bytesKey, sensorID)
	}
	return removed.Val(), nil
}

func (b *Backend) Downsample(ctx context.Context, sensorID string, startUS, endUS, intervalUS int64) ([]*domain.SensorReading, error) {
	return nil, ports.Unsupported(backendName, "downsample")
}

func (b *Backend) Interpolate(ctx context.Context, sensorID string, timestampsUS []int64) ([]*domain.SensorReading, error) {
	return nil, ports.Unsupported(backendName, "interpolate")
}

func (b *Backend) Aggregate(ctx context.Context, sensorID string, startUS, endUS, windowUS int64) ([]domain.SensorStatistics, error) {
	return nil, ports.Unsupported(backendName, "aggregate")
}

func (b *Backend) DetectGaps(ctx context.Context, sensorID string, startUS, endUS, maxGapUS int64) ([]domain.TimeRange, error) {
	return nil, ports.Unsupported(backendName, "detect_gaps")
}

func (b *Backend) Optimize(ctx context.Context) error {
	return b.checkConnected()
}

func (b *Backend) Backup(ctx context.Context, destination string) error {
	return ports.Unsupported(backendName, "backup")
}

func (b *Backend) Restore(ctx context.Context, source string) error {
	return ports.Unsupported(backendName, "restore")
}

func (b *Backend) StreamingProvider() ports.StreamingProvider { return streamer{b: b} }

func (b *Backend) TransactionProvider() ports.TransactionProvider { return txProvider{b: b} }

func absDiff(a, b int64) uint64 {
	if a > b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}

func classify(kind error, op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", domain.ErrTimeout, op, err)
	case errors.Is(err, goredis.ErrClosed):
		return fmt.Errorf("%w: %s: %v", domain.ErrConnection, op, err)
	}
	return fmt.Errorf("%w: %s: %v", kind, op, err)
}

var _ ports.Database = (*Backend)(nil)
