package sensorreplay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig()

	flow, err := ConfFromConfig(cfg, WithFlowOptions(WithLogger(zap.NewNop()), WithRegistry(prometheus.NewRegistry())))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	col := &stubCollector{}
	tr := &stubTransformer{}
	pub := NewCallbackPublisher("cb", func(string, *SensorFrame) error { return nil })

	rt, err := flow.
		StreamIN(
			StreamInCollector(col),
			StreamInTransformer(tr),
		).
		StreamOUT(context.Background(),
			StreamOutPublisher(pub),
			StreamOutCallback("second", func(string, *SensorFrame) error { return nil }),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	defer rt.Shutdown(context.Background())

	if rt.collector != col {
		t.Fatalf("expected custom collector to be wired")
	}
	if rt.transformer != tr {
		t.Fatalf("expected custom transformer to be wired")
	}
	if rt.Publishers() != 2 {
		t.Fatalf("expected two publishers, got %d", rt.Publishers())
	}
}

func TestConfLoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte("database:\n  backend: mock\nreplay:\n  dataset_id: drive-1\n  target_fps: 60\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flow, err := Conf(path)
	if err != nil {
		t.Fatalf("Conf returned error: %v", err)
	}
	cfg := flow.Config()
	if cfg.Database.Backend != BackendMock || cfg.Replay.DatasetID != "drive-1" || cfg.Replay.TargetFPS != 60 {
		t.Fatalf("unexpected config %+v", cfg.Replay)
	}
	if _, err := Conf(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestNilFlow(t *testing.T) {
	var f *Flow
	if f.Config() != nil || f.StreamIN() != nil {
		t.Fatalf("nil flow must stay nil")
	}
	if _, err := f.StreamOUT(context.Background()); err == nil {
		t.Fatalf("expected error from nil flow")
	}
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
