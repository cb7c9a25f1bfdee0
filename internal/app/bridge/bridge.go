package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/buffer"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/observability"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

var ErrAlreadyRunning = errors.New("bridge is already running")

// Source feeds the bridge. The dataset selector implements it.
type Source interface {
	QuerySelectedData(ctx context.Context, datasetID string, q domain.SensorQuery) ([]*domain.SensorReading, error)
	DatasetTimeRange(ctx context.Context, datasetID string) (*domain.TimeRange, error)
}

type State int32

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

const bytesPerMB = 1 << 20

// Bridge replays stored readings as time-paced frames. Buffers, clock,
// frame counter and status are guarded independently, so a reader may see
// the clock slightly ahead of the buffers.
type Bridge struct {
	cfg Config
	src Source
	obs ports.Observability
	now func() time.Time

	stateMu sync.RWMutex
	state   State
	startUS int64
	endUS   int64 // math.MaxInt64 when unbounded

	bufMu           sync.Mutex
	buffers         map[string]*buffer.Ring
	prefetchedUntil int64

	clockMu     sync.Mutex
	simTime     int64
	halted      bool
	lastAdvance time.Time

	frames atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64

	statusMu sync.RWMutex
	status   domain.BridgeStatus
}

type Option func(*Bridge)

func WithObservability(obs ports.Observability) Option {
	return func(b *Bridge) { b.obs = obs }
}

// WithClock replaces the wall clock used by real-time sync.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New builds a stopped bridge. A nil src yields a bridge without data.
func New(cfg Config, src Source, opts ...Option) (*Bridge, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := &Bridge{
		cfg:     cfg,
		src:     src,
		now:     time.Now,
		buffers: make(map[string]*buffer.Ring),
		endUS:   math.MaxInt64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.obs == nil {
		b.obs = observability.NewNop()
	}
	start := int64(0)
	if cfg.Timing.StartTimeUS != nil {
		start = *cfg.Timing.StartTimeUS
	}
	b.status = domain.BridgeStatus{
		CurrentTimeUS: start,
		PlaybackSpeed: cfg.Timing.PlaybackSpeed,
		ActiveSensors: append([]string{}, cfg.SensorSelection.SelectedSensors...),
		LastUpdate:    b.now().UTC(),
	}
	return b, nil
}

func (b *Bridge) Config() Config { return b.cfg }

func (b *Bridge) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// Start resolves the replay window, resets the clock and fills the buffers.
// It fails with ErrAlreadyRunning unless the bridge is stopped.
func (b *Bridge) Start(ctx context.Context) error {
	b.stateMu.Lock()
	if b.state != Stopped {
		b.stateMu.Unlock()
		return ErrAlreadyRunning
	}
	b.state = Starting
	b.stateMu.Unlock()

	startUS, endUS := b.resolveWindow(ctx)

	b.stateMu.Lock()
	b.startUS, b.endUS = startUS, endUS
	b.stateMu.Unlock()

	b.clockMu.Lock()
	b.simTime = startUS
	b.halted = false
	b.lastAdvance = b.now()
	b.clockMu.Unlock()
	b.frames.Store(0)

	b.bufMu.Lock()
	b.resetBuffersLocked()
	b.bufMu.Unlock()

	if err := b.prefetch(ctx, startUS, startUS); err != nil {
		b.stateMu.Lock()
		b.state = Stopped
		b.stateMu.Unlock()
		return err
	}

	b.stateMu.Lock()
	b.state = Running
	b.stateMu.Unlock()

	b.statusMu.Lock()
	b.status.IsActive = true
	b.status.CurrentTimeUS = startUS
	b.status.TotalDurationUS = 0
	if endUS != math.MaxInt64 {
		b.status.TotalDurationUS = endUS - startUS
	}
	b.status.LastUpdate = b.now().UTC()
	b.statusMu.Unlock()
	b.updateStatus()

	b.obs.LogInfo("bridge_started",
		ports.Field{Key: "dataset_id", Value: b.cfg.DatasetID},
		ports.Field{Key: "start_time_us", Value: startUS},
		ports.Field{Key: "sensors", Value: len(b.cfg.SensorSelection.SelectedSensors)},
	)
	return nil
}

// Stop clears the buffers and marks the bridge inactive. Stopping a stopped
// bridge is a no-op.
func (b *Bridge) Stop() error {
	b.stateMu.Lock()
	wasRunning := b.state != Stopped
	b.state = Stopped
	b.stateMu.Unlock()

	b.bufMu.Lock()
	b.resetBuffersLocked()
	b.bufMu.Unlock()

	b.statusMu.Lock()
	b.status.IsActive = false
	b.status.BufferStats.TotalBufferedReadings = 0
	b.status.BufferStats.MemoryUsageMB = 0
	b.status.BufferStats.BufferUtilization = 0
	b.status.LastUpdate = b.now().UTC()
	b.statusMu.Unlock()

	if wasRunning {
		b.obs.LogInfo("bridge_stopped", ports.Field{Key: "dataset_id", Value: b.cfg.DatasetID})
	}
	return nil
}

// resolveWindow picks the replay bounds: explicit timing first, then the
// selection's time range, then the dataset's span.
func (b *Bridge) resolveWindow(ctx context.Context) (int64, int64) {
	var dataset *domain.TimeRange
	if b.src != nil {
		tr, err := b.src.DatasetTimeRange(ctx, b.cfg.DatasetID)
		if err != nil {
			b.obs.LogWarn("bridge_dataset_range_unavailable",
				ports.Field{Key: "dataset_id", Value: b.cfg.DatasetID},
				ports.Field{Key: "error", Value: err.Error()},
			)
		} else {
			dataset = tr
		}
	}
	sel := b.cfg.SensorSelection.TimeRange

	start := int64(0)
	switch {
	case b.cfg.Timing.StartTimeUS != nil:
		start = *b.cfg.Timing.StartTimeUS
	case sel != nil:
		start = sel.StartTimeUS
	case dataset != nil:
		start = dataset.StartTimeUS
	}

	end := int64(math.MaxInt64)
	switch {
	case b.cfg.Timing.EndTimeUS != nil:
		end = *b.cfg.Timing.EndTimeUS
	case sel != nil:
		end = sel.EndTimeUS
	case dataset != nil:
		end = dataset.EndTimeUS
	}
	return start, end
}

func (b *Bridge) window() (int64, int64) {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.startUS, b.endUS
}

// AdvanceFrame moves the clock one step and reports whether playback
// continues. It returns false when the bridge is not running, and when a
// non-looping replay has reached its end; the clock then stays put.
func (b *Bridge) AdvanceFrame(ctx context.Context) (bool, error) {
	if b.State() != Running {
		return false, nil
	}
	startUS, endUS := b.window()

	b.clockMu.Lock()
	if b.halted {
		b.clockMu.Unlock()
		b.frames.Add(1)
		b.updateStatus()
		return false, nil
	}
	now := b.now()
	step := b.cfg.FrameStepUS()
	if b.cfg.Timing.SyncMode == SyncRealTime {
		step = int64(float64(now.Sub(b.lastAdvance).Microseconds()) * b.cfg.Timing.PlaybackSpeed)
		if step < 1 {
			step = 1
		}
	}
	b.lastAdvance = now

	next := saturatingAdd(b.simTime, step)
	cont, wrapped := true, false
	if next >= endUS {
		if b.cfg.Timing.LoopReplay {
			next = startUS
			wrapped = true
		} else {
			cont = false
			b.halted = true
		}
	}
	b.simTime = next
	b.clockMu.Unlock()

	b.frames.Add(1)

	var err error
	if wrapped {
		b.bufMu.Lock()
		b.resetBuffersLocked()
		b.bufMu.Unlock()
		err = b.prefetch(ctx, next, next)
	} else if cont {
		if until := b.prefetchedEnd(); next > until {
			err = b.prefetch(ctx, saturatingAdd(until, 1), next)
		}
	}
	b.updateStatus()
	return cont, err
}

func (b *Bridge) prefetchedEnd() int64 {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return b.prefetchedUntil
}

// prefetch loads [fromUS, atUS + window] into the per-sensor buffers. fromUS
// continues where the previous load ended so no reading is skipped when the
// clock jumps past the window.
func (b *Bridge) prefetch(ctx context.Context, fromUS, atUS int64) error {
	_, endUS := b.window()
	to := saturatingAdd(atUS, int64(b.cfg.Buffer.PrefetchSize)*1_000_000)
	if endUS != math.MaxInt64 && to > endUS {
		to = endUS
	}
	if to < fromUS {
		to = fromUS
	}
	if b.src == nil {
		b.bufMu.Lock()
		b.prefetchedUntil = to
		b.bufMu.Unlock()
		return nil
	}

	q := domain.TimeRangeQuery(fromUS, to).WithSensors(b.cfg.SensorSelection.SelectedSensors...)
	if mq := b.cfg.SensorSelection.MinQuality; mq != nil {
		q = q.WithMinQuality(*mq)
	}
	readings, err := b.src.QuerySelectedData(ctx, b.cfg.DatasetID, q)
	if err != nil {
		b.obs.LogError("bridge_prefetch_failed", err, ports.Field{Key: "from_us", Value: fromUS})
		return fmt.Errorf("prefetch [%d, %d]: %w", fromUS, to, err)
	}

	b.bufMu.Lock()
	for _, r := range readings {
		ring, ok := b.buffers[r.SensorID]
		if !ok {
			ring = buffer.NewRing(b.cfg.Buffer.MaxBufferSize)
			b.buffers[r.SensorID] = ring
		}
		ring.Push(r)
	}
	b.prefetchedUntil = to
	var bytes int64
	for _, ring := range b.buffers {
		bytes += ring.SizeBytes()
	}
	sensors := len(b.buffers)
	b.bufMu.Unlock()

	if limit := int64(b.cfg.Buffer.MaxMemoryMB) * bytesPerMB; limit > 0 && bytes > limit {
		b.obs.LogWarn("bridge_buffer_memory_exceeded",
			ports.Field{Key: "bytes", Value: bytes},
			ports.Field{Key: "limit_mb", Value: b.cfg.Buffer.MaxMemoryMB},
		)
	}
	b.obs.LogInfo("bridge_prefetched",
		ports.Field{Key: "from_us", Value: fromUS},
		ports.Field{Key: "to_us", Value: to},
		ports.Field{Key: "readings", Value: len(readings)},
		ports.Field{Key: "sensors", Value: sensors},
	)
	return nil
}

func (b *Bridge) resetBuffersLocked() {
	b.buffers = make(map[string]*buffer.Ring)
	b.prefetchedUntil = math.MinInt64
}

// GetCurrentFrame assembles the nearest buffered reading of every sensor at
// the current simulation time. It returns nil when nothing is buffered.
func (b *Bridge) GetCurrentFrame() *domain.SensorFrame {
	b.clockMu.Lock()
	t := b.simTime
	b.clockMu.Unlock()
	frameNo := b.frames.Load()
	maxGap := b.cfg.SensorSelection.Interpolation.MaxGapUS

	readings := make(map[string]*domain.SensorReading)
	b.bufMu.Lock()
	for id, ring := range b.buffers {
		r, dist := ring.Nearest(t)
		if r == nil {
			continue
		}
		if dist <= maxGap {
			b.hits.Add(1)
		} else {
			b.misses.Add(1)
		}
		readings[id] = r
	}
	b.bufMu.Unlock()

	if len(readings) == 0 {
		return nil
	}
	return &domain.SensorFrame{
		TimestampUS: t,
		Readings:    readings,
		FrameNumber: frameNo,
	}
}

// GetSensorInterface is the snapshot handed to simulation consumers.
func (b *Bridge) GetSensorInterface() domain.SensorInterface {
	frame := b.GetCurrentFrame()

	b.clockMu.Lock()
	t := b.simTime
	b.clockMu.Unlock()
	startUS, _ := b.window()

	available := append([]string{}, b.cfg.SensorSelection.SelectedSensors...)
	if len(available) == 0 {
		b.bufMu.Lock()
		for id := range b.buffers {
			available = append(available, id)
		}
		b.bufMu.Unlock()
		sort.Strings(available)
	}

	return domain.SensorInterface{
		AvailableSensors: available,
		CurrentFrame:     frame,
		SimulationTime: domain.SimulationTimeInfo{
			CurrentTimeUS: t,
			StartTimeUS:   startUS,
			DeltaTimeUS:   b.cfg.DeltaTimeUS(),
			FrameNumber:   b.frames.Load(),
			RealTime:      b.now().UTC(),
		},
	}
}

// GetStatus refreshes and returns the status.
func (b *Bridge) GetStatus() domain.BridgeStatus {
	b.updateStatus()
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	s := b.status
	s.ActiveSensors = append([]string{}, b.status.ActiveSensors...)
	return s
}

// updateStatus recomputes progress and, when the buffers are not contended,
// the buffer statistics. Under contention the previous statistics stay.
func (b *Bridge) updateStatus() {
	b.clockMu.Lock()
	t := b.simTime
	b.clockMu.Unlock()
	startUS, endUS := b.window()

	progress := 0.0
	if endUS != math.MaxInt64 {
		if d := endUS - startUS; d > 0 {
			progress = math.Min(math.Max(float64(t-startUS)/float64(d), 0), 1)
		}
	}

	var (
		stats  domain.BufferStats
		fresh  bool
		maxBuf = b.cfg.Buffer.MaxBufferSize
	)
	if b.bufMu.TryLock() {
		var bytes int64
		for _, ring := range b.buffers {
			stats.TotalBufferedReadings += ring.Len()
			bytes += ring.SizeBytes()
		}
		stats.MemoryUsageMB = float64(bytes) / bytesPerMB
		stats.BufferUtilization = float64(stats.TotalBufferedReadings) / float64(max(maxBuf*len(b.buffers), 1))
		b.bufMu.Unlock()
		fresh = true
	}

	b.statusMu.Lock()
	b.status.CurrentTimeUS = t
	b.status.Progress = progress
	if fresh {
		b.status.BufferStats = stats
	}
	b.status.BufferStats.CacheHits = b.hits.Load()
	b.status.BufferStats.CacheMisses = b.misses.Load()
	b.status.LastUpdate = b.now().UTC()
	current := b.status.BufferStats
	b.statusMu.Unlock()

	b.obs.SetGauge(ports.MetricPlaybackProgress, progress)
	b.obs.SetGauge(ports.MetricBufferedReadings, float64(current.TotalBufferedReadings))
	b.obs.SetGauge(ports.MetricBufferUtil, current.BufferUtilization)
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
