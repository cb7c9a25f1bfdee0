package sensorreplay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/observability"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Metrics.Addr = ""
	cfg.Replay.TargetFPS = 1000
	cfg.Ingest.Policy.IdleSleep = time.Millisecond
	cfg.Ingest.Policy.FlushEvery = 5 * time.Millisecond
	return cfg
}

func newTestRuntime(t *testing.T, cfg *Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop()), WithRegistry(prometheus.NewRegistry())}, opts...)
	rt, err := NewRuntime(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt
}

func imuSeries(n int) []*SensorReading {
	out := make([]*SensorReading, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, NewSensorReading("imu_main", int64(i)*1000, domain.GenericData("imu", 1), []byte{byte(i)}))
	}
	return out
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	collectorStub := &stubCollector{}
	transformerStub := &stubTransformer{}
	queueStub := &stubQueue{}
	obsStub := observability.NewNop()

	rt := newTestRuntime(t, testConfig(),
		WithCollector(collectorStub),
		WithTransformer(transformerStub),
		WithReadingQueue(queueStub),
		WithObservability(obsStub),
		WithPublisher(NewCallbackPublisher("cb", func(string, *SensorFrame) error { return nil })),
	)

	if rt.collector != collectorStub {
		t.Fatalf("expected custom collector to be used")
	}
	if rt.transformer != transformerStub {
		t.Fatalf("expected custom transformer to be used")
	}
	if rt.queue != queueStub {
		t.Fatalf("expected custom queue to be used")
	}
	if rt.obs != obsStub {
		t.Fatalf("expected custom observability to be used")
	}
	if rt.Publishers() != 1 {
		t.Fatalf("expected one publisher, got %d", rt.Publishers())
	}
	if rt.Database().DatabaseType() != "mock" {
		t.Fatalf("expected the mock backend, got %s", rt.Database().DatabaseType())
	}
}

func TestNewRuntimeRejectsBadConfig(t *testing.T) {
	if _, err := NewRuntime(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	cfg := testConfig()
	cfg.Database.Backend = BackendInfluxDB
	_, err := NewRuntime(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegistry(prometheus.NewRegistry()))
	if !errors.Is(err, ErrFeatureNotSupported) {
		t.Fatalf("expected unsupported backend, got %v", err)
	}
}

func TestRuntimeReplaysSelectedSensors(t *testing.T) {
	cfg := testConfig()
	cfg.Replay.Sensors = []string{"imu_main"}
	rt := newTestRuntime(t, cfg)

	ctx := context.Background()
	readings := append(imuSeries(5), NewSensorReading("gps_main", 2000, domain.GenericData("gps", 1), []byte{9}))
	if err := rt.Datasets().ImportData(ctx, "default", NewSensorBatch("test", readings)); err != nil {
		t.Fatalf("import: %v", err)
	}

	pub, frames, closeFrames := NewChannelPublisher("test", 16)
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.ReplayTo(runCtx, pub); err != nil {
		t.Fatalf("replay: %v", err)
	}
	closeFrames()

	var n int
	for f := range frames {
		n++
		if len(f.Readings) != 1 || f.Readings["imu_main"] == nil {
			t.Fatalf("expected imu_main only, got %+v", f.Readings)
		}
	}
	if n != 4 {
		t.Fatalf("expected 4 frames, got %d", n)
	}
}

func TestRuntimeIngestsFromCollector(t *testing.T) {
	col := &stubCollector{readings: imuSeries(6)}
	rt := newTestRuntime(t, testConfig(), WithCollector(col))
	ctx := context.Background()

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}

	deadline := time.Now().Add(3 * time.Second)
	var got []*SensorReading
	for time.Now().Before(deadline) {
		var err error
		got, err = rt.Database().QueryReadings(ctx, domain.AllTimeQuery())
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) == 6 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 ingested readings, got %d", len(got))
	}
	for _, r := range got {
		if r.Checksum == "" {
			t.Fatalf("default transformer must stamp checksums")
		}
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	rt := newTestRuntime(t, testConfig())
	h := rt.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rep healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if rep.Status != "ok" || rep.Backend != "mock" || !rep.Health.IsConnected {
		t.Fatalf("unexpected health report %+v", rep)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "replay_backend_healthy 1") {
		t.Fatalf("expected backend health gauge in metrics, got %d", rec.Code)
	}

	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", rec.Code)
	}
}

func TestChecksumTransformer(t *testing.T) {
	r := NewSensorReading("s", 1, domain.GenericData("s", 1), []byte{1})
	out, err := checksumTransformer{}.Transform(r)
	if err != nil || out.Checksum == "" {
		t.Fatalf("expected checksum to be stamped, got %v", err)
	}
	out.Payload = []byte{2}
	if _, err := (checksumTransformer{}).Transform(out); err == nil {
		t.Fatalf("expected checksum mismatch")
	}
}

type stubCollector struct {
	readings []*SensorReading
}

func (s *stubCollector) Start(ctx context.Context, out chan<- *SensorReading) error {
	go func() {
		for _, r := range s.readings {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *stubCollector) Stop() error { return nil }

type stubTransformer struct{}

func (s *stubTransformer) Transform(r *SensorReading) (*SensorReading, error) { return r, nil }

type stubQueue struct{}

func (s *stubQueue) Enqueue(*SensorReading) bool       { return true }
func (s *stubQueue) DequeueBatch(int) []*SensorReading { return nil }
func (s *stubQueue) Len() int                          { return 0 }
