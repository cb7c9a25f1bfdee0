package sensorreplay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/buffer"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/export"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/observability"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/opcua"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/publish"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/bridge"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/config"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/dataset"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/manager"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/pipeline"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// Option customizes the dependencies used by Runtime.
type Option func(*overrides)

type overrides struct {
	collector   Collector
	transformer Transformer
	queue       ReadingQueue
	obs         Observability
	logger      *zap.Logger
	registry    *prometheus.Registry
	publishers  []FramePublisher
	backends    map[config.BackendType]BackendBuilder
}

// WithCollector injects a custom live collector and enables ingest.
func WithCollector(col Collector) Option {
	return func(o *overrides) {
		o.collector = col
	}
}

// WithTransformer replaces the default checksum-stamping transformer.
func WithTransformer(t Transformer) Option {
	return func(o *overrides) {
		o.transformer = t
	}
}

// WithReadingQueue injects a custom ingest queue implementation.
func WithReadingQueue(q ReadingQueue) Option {
	return func(o *overrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend. The metrics
// endpoint then only serves the Go runtime collectors.
func WithObservability(obs Observability) Option {
	return func(o *overrides) {
		o.obs = obs
	}
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l *zap.Logger) Option {
	return func(o *overrides) {
		o.logger = l
	}
}

// WithRegistry registers the runtime metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *overrides) {
		o.registry = reg
	}
}

// WithPublisher adds a frame publisher next to those built from the config.
func WithPublisher(p FramePublisher) Option {
	return func(o *overrides) {
		if p != nil {
			o.publishers = append(o.publishers, p)
		}
	}
}

// WithBackend overrides how the backend of the given kind is built.
func WithBackend(kind BackendType, b BackendBuilder) Option {
	return func(o *overrides) {
		if o.backends == nil {
			o.backends = make(map[config.BackendType]BackendBuilder)
		}
		o.backends[kind] = b
	}
}

// Runtime wires storage, datasets, replay and live ingest together and
// exposes lifecycle hooks for embedding inside any Go service.
type Runtime struct {
	cfg      *Config
	log      *zap.Logger
	obs      ports.Observability
	registry *prometheus.Registry

	db        *manager.DatabaseManager
	datasets  *dataset.DatasetManager
	selector  *dataset.SensorSelector
	publisher *publish.Fanout

	collector   ports.Collector
	transformer ports.Transformer
	queue       ports.ReadingQueue

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	monitor    *manager.HealthMonitor
	metricsSrv *http.Server
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewRuntime connects the configured backend and builds the default
// adapters: Prometheus observability, NATS/MQTT publishers when their
// addresses are set and an OPC UA collector when ingest is enabled.
func NewRuntime(ctx context.Context, cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", domain.ErrConfiguration)
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Service)
		if err != nil {
			return nil, fmt.Errorf("%w: logger: %v", domain.ErrConfiguration, err)
		}
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	obs := o.obs
	if obs == nil {
		obs = observability.NewPromObs(logger, reg)
	}

	factory := manager.NewFactory(obs)
	for kind, b := range o.backends {
		factory.Register(kind, b)
	}
	db, err := manager.NewDatabaseManager(ctx, cfg.Database,
		manager.WithFactory(factory),
		manager.WithObservability(obs),
	)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:         cfg,
		log:         logger,
		obs:         obs,
		registry:    reg,
		db:          db,
		collector:   o.collector,
		transformer: o.transformer,
		queue:       o.queue,
	}
	rt.datasets = dataset.NewDatasetManager(db.Database(),
		dataset.WithExporters(export.NewRegistry()),
		dataset.WithObservability(obs),
	)
	rt.selector = dataset.NewSensorSelector(rt.datasets)

	pubs, err := dialPublishers(cfg.Publish)
	if err != nil {
		_ = db.Shutdown(ctx)
		return nil, err
	}
	rt.publisher = publish.NewFanout(append(pubs, o.publishers...)...)

	if rt.collector == nil && cfg.Ingest.Enabled {
		rt.collector, err = opcua.NewCollector(cfg.Ingest.OPCUA, logger)
		if err != nil {
			_ = rt.publisher.Close()
			_ = db.Shutdown(ctx)
			return nil, err
		}
	}
	if rt.queue == nil {
		rt.queue = buffer.NewQueue(cfg.Ingest.Policy.MaxQueueLen)
	}
	if rt.transformer == nil {
		rt.transformer = checksumTransformer{}
	}

	return rt, nil
}

func dialPublishers(cfg config.PublishConfig) ([]ports.FramePublisher, error) {
	var pubs []ports.FramePublisher
	if cfg.NATS.URL != "" {
		p, err := publish.DialNATS(cfg.NATS)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.MQTT.Broker != "" {
		p, err := publish.DialMQTT(cfg.MQTT)
		if err != nil {
			for _, prev := range pubs {
				_ = prev.Close()
			}
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

func (r *Runtime) Config() *Config                   { return r.cfg }
func (r *Runtime) Logger() *zap.Logger               { return r.log }
func (r *Runtime) Manager() *manager.DatabaseManager { return r.db }
func (r *Runtime) Datasets() *dataset.DatasetManager { return r.datasets }
func (r *Runtime) Selector() *dataset.SensorSelector { return r.selector }
func (r *Runtime) Registry() *prometheus.Registry    { return r.registry }
func (r *Runtime) Publishers() int                   { return r.publisher.Len() }

// Database is the lock- and deadline-guarded view of the active backend.
func (r *Runtime) Database() Database { return r.db.Database() }

// Start launches health monitoring, live ingest (when a collector is set)
// and the metrics server. It returns immediately; call Run to block instead.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.monitor = r.db.StartHealthMonitoring(runCtx)

	if r.collector != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			err := pipeline.RunIngestPipeline(runCtx, r.collector, r.queue, r.db.Database(), r.transformer, r.cfg.Ingest.Policy, r.obs)
			if err != nil {
				r.obs.LogError("ingest_pipeline_failed", err)
			}
		}()
	}

	if r.cfg.Metrics.Addr != "" {
		r.startMetrics()
	}
	return nil
}

// Run starts the runtime, replays the configured dataset to every
// publisher and blocks until ctx is cancelled. Upon cancellation it
// attempts a graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	if r.publisher.Len() > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.Replay(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.obs.LogError("replay_failed", err)
			}
		}()
	} else {
		r.obs.LogWarn("replay_skipped", ports.Field{Key: "reason", Value: "no publishers configured"})
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// NewBridge builds a stopped bridge for the configured replay. A sensor
// list in the config also becomes the dataset's stored selection.
func (r *Runtime) NewBridge(ctx context.Context) (*bridge.Bridge, error) {
	rc := r.cfg.Replay
	var sel domain.SensorSelection
	if len(rc.Sensors) > 0 {
		if err := r.selector.SelectSensors(ctx, rc.DatasetID, rc.Sensors); err != nil {
			return nil, err
		}
		sel = domain.NewSensorSelection(rc.DatasetID, rc.Sensors)
	} else {
		var err error
		sel, err = r.selector.GetSelection(ctx, rc.DatasetID)
		if err != nil {
			return nil, err
		}
	}
	bcfg, err := bridgeConfig(rc, sel)
	if err != nil {
		return nil, err
	}
	return bridge.New(bcfg, r.selector, bridge.WithObservability(r.obs))
}

// Replay runs the configured replay against the runtime's publishers until
// a non-looping replay ends or ctx is cancelled.
func (r *Runtime) Replay(ctx context.Context) error {
	return r.ReplayTo(ctx, r.publisher)
}

// ReplayTo runs the configured replay against pub.
func (r *Runtime) ReplayTo(ctx context.Context, pub FramePublisher) error {
	b, err := r.NewBridge(ctx)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop()
	return pipeline.RunReplayLoop(ctx, b, pub, r.obs)
}

// Shutdown stops ingest, the metrics server, the publishers and the backend.
// It is safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		cancel, monitor, srv := r.cancel, r.monitor, r.metricsSrv
		r.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if monitor != nil {
			monitor.Stop()
		}
		r.wg.Wait()

		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		if err := r.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := r.db.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		_ = r.log.Sync()
	})
	return errors.Join(errs...)
}

// Handler serves /metrics and /healthz.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	mux.HandleFunc("/healthz", r.serveHealth)
	return mux
}

type healthReport struct {
	Status     string                `json:"status"`
	Backend    string                `json:"backend"`
	Connection string                `json:"connection"`
	Health     domain.DatabaseHealth `json:"health"`
}

func (r *Runtime) serveHealth(w http.ResponseWriter, req *http.Request) {
	h, err := r.db.HealthCheck(req.Context())
	rep := healthReport{
		Status:     "ok",
		Backend:    string(r.cfg.Database.Backend),
		Connection: r.cfg.Database.ConnectionInfo(),
		Health:     h,
	}
	code := http.StatusOK
	if err != nil || !h.IsConnected {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

func (r *Runtime) startMetrics() {
	r.metricsSrv = &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := r.metricsSrv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("metrics server exited", zap.Error(err))
		}
	}()
}

func bridgeConfig(rc config.ReplayConfig, sel domain.SensorSelection) (bridge.Config, error) {
	mode, err := bridge.ParseSyncMode(rc.SyncMode)
	if err != nil {
		return bridge.Config{}, err
	}
	sel.DatasetID = rc.DatasetID
	sel.PlaybackSpeed = rc.PlaybackSpeed
	sel.LoopPlayback = rc.Loop
	if rc.MaxGapUS > 0 {
		sel.Interpolation.MaxGapUS = rc.MaxGapUS
	}

	cfg := bridge.DefaultConfig()
	cfg.DatasetID = rc.DatasetID
	cfg.SensorSelection = sel
	cfg.Timing = bridge.TimingConfig{
		PlaybackSpeed: rc.PlaybackSpeed,
		StartTimeUS:   rc.StartTimeUS,
		EndTimeUS:     rc.EndTimeUS,
		LoopReplay:    rc.Loop,
		SyncMode:      mode,
		TargetFPS:     rc.TargetFPS,
	}
	cfg.Buffer = bridge.BufferSettings{
		MaxBufferSize: rc.MaxBufferSize,
		PrefetchSize:  rc.PrefetchSecs,
		MaxMemoryMB:   rc.MaxMemoryMB,
	}
	return cfg, nil
}

// checksumTransformer stamps the payload checksum on readings that lack one
// and rejects readings whose checksum does not match.
type checksumTransformer struct{}

func (checksumTransformer) Transform(r *domain.SensorReading) (*domain.SensorReading, error) {
	if r.Checksum == "" {
		return r.WithChecksum(), nil
	}
	if !r.VerifyChecksum() {
		return nil, fmt.Errorf("%w: checksum mismatch for sensor %s", domain.ErrInvalidData, r.SensorID)
	}
	return r, nil
}
