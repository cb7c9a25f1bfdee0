package opcua

import (
	"errors"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

func variant(t *testing.T, v any) *ua.Variant {
	t.Helper()
	out, err := ua.NewVariant(v)
	if err != nil {
		t.Fatalf("variant: %v", err)
	}
	return out
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := Config{Endpoint: "opc.tcp://plc:4840", Nodes: []NodeConfig{{NodeID: "ns=2;s=Speed"}}}
	cfg.ApplyDefaults()
	if cfg.Nodes[0].SensorID != "ns=2;s=Speed" || cfg.PublishInterval != 250*time.Millisecond || cfg.SecurityMode != "None" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	if _, err := NewCollector(Config{Nodes: cfg.Nodes}, nil); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing endpoint, got %v", err)
	}
	if _, err := NewCollector(Config{Endpoint: "opc.tcp://plc:4840"}, nil); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing nodes, got %v", err)
	}
}

func TestToReadingsEncodesFloatPayload(t *testing.T) {
	handles := map[uint32]NodeConfig{
		1: {NodeID: "ns=2;s=Speed", SensorID: "speed", Unit: "km/h"},
		2: {NodeID: "ns=2;s=Label", SensorID: "label"},
	}
	src := time.UnixMicro(1_700_000_000_000_000)
	dcn := &ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		{ClientHandle: 1, Value: &ua.DataValue{Value: variant(t, float32(42.5)), Status: ua.StatusOK, SourceTimestamp: src}},
		{ClientHandle: 2, Value: &ua.DataValue{Value: variant(t, "text"), Status: ua.StatusOK}},
		{ClientHandle: 9, Value: &ua.DataValue{Value: variant(t, int32(1)), Status: ua.StatusOK}},
		{ClientHandle: 1, Value: &ua.DataValue{Value: variant(t, int32(7)), Status: ua.StatusBad}},
	}}

	now := time.UnixMicro(1_800_000_000_000_000)
	got := toReadings(handles, dcn, now, zap.NewNop())
	if len(got) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(got))
	}

	first := got[0]
	if first.SensorID != "speed" || first.TimestampUS != src.UnixMicro() || first.Quality != 1 {
		t.Fatalf("unexpected first reading %+v", first)
	}
	if first.DataType.Kind != domain.KindGeneric || first.DataType.Generic.DataSize != 8 {
		t.Fatalf("expected generic 8-byte data type, got %+v", first.DataType)
	}
	if first.Metadata["node_id"] != "ns=2;s=Speed" || first.Metadata["unit"] != "km/h" {
		t.Fatalf("unexpected metadata %v", first.Metadata)
	}
	if v, ok := DecodeValue(first); !ok || v != 42.5 {
		t.Fatalf("expected 42.5, got %v (%v)", v, ok)
	}

	second := got[1]
	if second.Quality != 0 || second.TimestampUS != now.UnixMicro() {
		t.Fatalf("expected bad quality with fallback timestamp, got %+v", second)
	}
	if err := second.Validate(); err != nil {
		t.Fatalf("collector readings must validate: %v", err)
	}
}

func TestVariantToFloat(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(1.25), 1.25, true},
		{uint16(9), 9, true},
		{true, 1, true},
		{"nope", 0, false},
	}
	for _, tc := range cases {
		got, ok := variantToFloat(variant(t, tc.in))
		if ok != tc.ok || got != tc.want {
			t.Fatalf("variantToFloat(%v) = %v, %v", tc.in, got, ok)
		}
	}
	if _, ok := variantToFloat(nil); ok {
		t.Fatalf("nil variant must not convert")
	}
}

func TestNormalizeSecurityMode(t *testing.T) {
	if normalizeSecurityMode("sign+encrypt") != "SignAndEncrypt" || normalizeSecurityMode("SIGN") != "Sign" || normalizeSecurityMode("x") != "None" {
		t.Fatalf("unexpected security mode normalisation")
	}
}
