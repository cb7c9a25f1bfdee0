package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// PromObs logs through zap and records metrics in Prometheus.
type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the replay metrics on reg, or on the default
// registerer when reg is nil.
func NewPromObs(logger *zap.Logger, reg prometheus.Registerer) *PromObs {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	stored := counter(ports.MetricReadingsStored, "Readings written to the backend.")
	rejected := counter(ports.MetricReadingsRejected, "Readings rejected by validation or the backend.")
	dropped := counter(ports.MetricIngestDropped, "Live readings lost to queue backpressure.")
	frames := counter(ports.MetricFramesEmitted, "Replay frames handed to publishers.")
	pubFail := counter(ports.MetricPublishFailures, "Frames a publisher failed to deliver.")

	healthy := gauge(ports.MetricBackendHealthy, "1 when the storage backend passed its last health check.")
	queueLen := gauge(ports.MetricQueueLength, "Readings waiting in the live ingest queue.")
	buffered := gauge(ports.MetricBufferedReadings, "Readings held in replay buffers.")
	util := gauge(ports.MetricBufferUtil, "Replay buffer fill ratio.")
	progress := gauge(ports.MetricPlaybackProgress, "Replay progress between 0 and 1.")

	queryLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricQueryLatency,
		Help:    "Backend query latency.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	storeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricStoreLatency,
		Help:    "Backend store latency.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	reg.MustRegister(stored, rejected, dropped, frames, pubFail,
		healthy, queueLen, buffered, util, progress,
		queryLatency, storeLatency)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			ports.MetricReadingsStored:   stored,
			ports.MetricReadingsRejected: rejected,
			ports.MetricIngestDropped:    dropped,
			ports.MetricFramesEmitted:    frames,
			ports.MetricPublishFailures:  pubFail,
		},
		gauges: map[string]prometheus.Gauge{
			ports.MetricBackendHealthy:   healthy,
			ports.MetricQueueLength:      queueLen,
			ports.MetricBufferedReadings: buffered,
			ports.MetricBufferUtil:       util,
			ports.MetricPlaybackProgress: progress,
		},
		histos: map[string]prometheus.Observer{
			ports.MetricQueryLatency: queryLatency,
			ports.MetricStoreLatency: storeLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Bool("critical", true), zap.Error(err))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordRejected(r *domain.SensorReading, err error) {
	p.IncCounter(ports.MetricReadingsRejected, 1)
	if r != nil {
		p.log.Warn("reading_rejected",
			zap.String("sensor_id", r.SensorID),
			zap.Int64("timestamp_us", r.TimestampUS),
			zap.Error(err))
	}
}

// Logger exposes the underlying zap logger.
func (p *PromObs) Logger() *zap.Logger { return p.log }

func zapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// Nop discards everything.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) LogInfo(string, ...ports.Field)              {}
func (Nop) LogWarn(string, ...ports.Field)              {}
func (Nop) LogError(string, error, ...ports.Field)      {}
func (Nop) LogCritical(string, error, ...ports.Field)   {}
func (Nop) IncCounter(string, float64)                  {}
func (Nop) ObserveLatency(string, float64)              {}
func (Nop) SetGauge(string, float64)                    {}
func (Nop) RecordRejected(*domain.SensorReading, error) {}

var (
	_ ports.Observability = (*PromObs)(nil)
	_ ports.Observability = Nop{}
)
