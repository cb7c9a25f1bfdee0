package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

func newConnected(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	b := New(opts...)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return b
}

func imuReading(sensor string, ts int64, quality float64) *domain.SensorReading {
	r := domain.NewSensorReading(sensor, ts, domain.IMUData(domain.IMUParams{
		Acceleration: domain.Vec3{X: float64(ts)},
	}), []byte{byte(ts), byte(ts >> 8)})
	r.Quality = quality
	r.Metadata["seq"] = float64(ts)
	return r
}

func TestStoreAndQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)

	in := imuReading("imu_main", 1000, 0.75).WithChecksum()
	if err := b.StoreReading(ctx, in); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := b.QueryReadings(ctx, domain.TimeRangeQuery(0, 2000).WithSensors("imu_main"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(out))
	}
	got := out[0]
	if !bytes.Equal(got.Payload, in.Payload) || got.Quality != in.Quality || got.Checksum != in.Checksum {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, in)
	}
	if !reflect.DeepEqual(got.Metadata, in.Metadata) {
		t.Fatalf("metadata mismatch: %v vs %v", got.Metadata, in.Metadata)
	}

	// Mutating the caller's copy must not reach the store.
	in.Payload[0] = 0xFF
	again, _ := b.QueryReadings(ctx, domain.TimeRangeQuery(0, 2000))
	if again[0].Payload[0] == 0xFF {
		t.Fatalf("stored reading shares payload with caller")
	}
}

func TestQueryRequiresConnection(t *testing.T) {
	b := New()
	_, err := b.QueryReadings(context.Background(), domain.TimeRangeQuery(0, 1))
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestQualityFilterMonotonic(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)
	qualities := []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0}
	for i, q := range qualities {
		if err := b.StoreReading(ctx, imuReading("imu", int64(i*100), q)); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	thresholds := []float64{0, 0.2, 0.5, 0.8, 1.0}
	var prev map[int64]bool
	for _, th := range thresholds {
		res, err := b.QueryReadings(ctx, domain.TimeRangeQuery(0, 10_000).WithMinQuality(th))
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		cur := make(map[int64]bool, len(res))
		for _, r := range res {
			if r.Quality < th {
				t.Fatalf("reading with quality %f passed threshold %f", r.Quality, th)
			}
			cur[r.TimestampUS] = true
		}
		for ts := range cur {
			if prev != nil && !prev[ts] {
				t.Fatalf("threshold %f returned ts %d absent at a lower threshold", th, ts)
			}
		}
		prev = cur
	}
}

func TestLimitAppliedAfterFilters(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)
	for i := int64(0); i < 10; i++ {
		q := 0.2
		if i%2 == 0 {
			q = 0.9
		}
		_ = b.StoreReading(ctx, imuReading("imu", i, q))
	}

	res, err := b.QueryReadings(ctx, domain.TimeRangeQuery(0, 100).WithMinQuality(0.5).WithLimit(3))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(res))
	}
	for i, want := range []int64{0, 2, 4} {
		if res[i].TimestampUS != want {
			t.Fatalf("position %d: expected ts %d, got %d", i, want, res[i].TimestampUS)
		}
	}
}

func TestGetReadingAtTimeNearest(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)

	if r, err := b.GetReadingAtTime(ctx, "radar", 10); err != nil || r != nil {
		t.Fatalf("expected nil for unknown sensor, got %v %v", r, err)
	}

	for _, ts := range []int64{100, 300, 200, 500} {
		_ = b.StoreReading(ctx, imuReading("radar", ts, 1))
	}
	_ = b.StoreReading(ctx, imuReading("other", 249, 1))

	cases := map[int64]int64{0: 100, 240: 200, 260: 300, 10_000: 500}
	for target, want := range cases {
		r, err := b.GetReadingAtTime(ctx, "radar", target)
		if err != nil {
			t.Fatalf("nearest: %v", err)
		}
		if r.TimestampUS != want {
			t.Fatalf("target %d: expected %d, got %d", target, want, r.TimestampUS)
		}
	}

	// 400 is equidistant from 300 and 500; 300 was stored first.
	r, _ := b.GetReadingAtTime(ctx, "radar", 400)
	if r.TimestampUS != 300 {
		t.Fatalf("expected tie to resolve to first stored (300), got %d", r.TimestampUS)
	}
}

func TestListSensorsSortedAndTimeRanges(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)

	if tr, _ := b.GetGlobalTimeRange(ctx); tr != nil {
		t.Fatalf("expected nil global range on empty backend")
	}

	for _, s := range []string{"lidar", "camera", "lidar", "gps"} {
		_ = b.StoreReading(ctx, imuReading(s, int64(len(s))*10, 1))
	}
	sensors, _ := b.ListSensors(ctx)
	if !reflect.DeepEqual(sensors, []string{"camera", "gps", "lidar"}) {
		t.Fatalf("unexpected sensors: %v", sensors)
	}

	tr, _ := b.GetGlobalTimeRange(ctx)
	if tr.StartTimeUS != 30 || tr.EndTimeUS != 60 || tr.ReadingCount != 4 {
		t.Fatalf("unexpected global range: %+v", tr)
	}
	if tr, _ := b.GetTimeRange(ctx, "missing"); tr != nil {
		t.Fatalf("expected nil range for unknown sensor")
	}
}

func TestSensorStatistics(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)

	if _, err := b.GetSensorStatistics(ctx, "ghost"); !errors.Is(err, domain.ErrSensorNotFound) {
		t.Fatalf("expected sensor not found, got %v", err)
	}

	// 0s, 1s, 2s, then a 3s jump.
	for i, ts := range []int64{0, 1_000_000, 2_000_000, 5_000_000} {
		_ = b.StoreReading(ctx, imuReading("gps", ts, []float64{1, 0.5, 1, 0.5}[i]))
	}
	st, err := b.GetSensorStatistics(ctx, "gps")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.AvgQuality != 0.75 {
		t.Fatalf("expected avg quality 0.75, got %f", st.AvgQuality)
	}
	if st.AvgSamplingRateHz != 0.8 {
		t.Fatalf("expected rate 0.8Hz, got %f", st.AvgSamplingRateHz)
	}
	if st.GapCount != 1 {
		t.Fatalf("expected 1 gap, got %d", st.GapCount)
	}
	if st.TotalSizeBytes != 8 {
		t.Fatalf("expected 8 bytes, got %d", st.TotalSizeBytes)
	}
}

func TestDeleteReadingsInclusive(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)
	for ts := int64(0); ts <= 50; ts += 10 {
		_ = b.StoreReading(ctx, imuReading("can", ts, 1))
		_ = b.StoreReading(ctx, imuReading("keep", ts, 1))
	}

	n, err := b.DeleteReadings(ctx, "can", 10, 30)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 removed, got %d", n)
	}
	left, _ := b.QueryReadings(ctx, domain.TimeRangeQuery(0, 100).WithSensors("can"))
	if len(left) != 3 {
		t.Fatalf("expected 3 remaining, got %d", len(left))
	}
	other, _ := b.QueryReadings(ctx, domain.TimeRangeQuery(0, 100).WithSensors("keep"))
	if len(other) != 6 {
		t.Fatalf("other sensor affected: %d", len(other))
	}
}

func TestStoreBatchAtomicAndBounded(t *testing.T) {
	ctx := context.Background()
	basic := ports.BasicFeatures()
	basic.MaxBatchSize = 2
	b := newConnected(t, WithFeatures(basic))

	bad := imuReading("imu", 2, 1)
	bad.Quality = 3
	err := b.StoreBatch(ctx, domain.NewSensorBatch("test", []*domain.SensorReading{imuReading("imu", 1, 1), bad}))
	if !errors.Is(err, domain.ErrInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
	if got, _ := b.QueryReadings(ctx, domain.AllTimeQuery()); len(got) != 0 {
		t.Fatalf("partial batch was stored: %d readings", len(got))
	}

	big := domain.NewSensorBatch("test", []*domain.SensorReading{imuReading("a", 1, 1), imuReading("a", 2, 1), imuReading("a", 3, 1)})
	if err := b.StoreBatch(ctx, big); !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("expected oversize batch rejection, got %v", err)
	}
}

func TestTimeSeriesOperations(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)
	for ts := int64(0); ts < 1000; ts += 100 {
		_ = b.StoreReading(ctx, imuReading("imu", ts, 1))
	}
	_ = b.StoreReading(ctx, imuReading("imu", 5000, 1))

	ds, err := b.Downsample(ctx, "imu", 0, 10_000, 250)
	if err != nil {
		t.Fatalf("downsample: %v", err)
	}
	var got []int64
	for _, r := range ds {
		got = append(got, r.TimestampUS)
	}
	if !reflect.DeepEqual(got, []int64{0, 300, 500, 800, 5000}) {
		t.Fatalf("unexpected downsample %v", got)
	}

	interp, err := b.Interpolate(ctx, "imu", []int64{150, 200})
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if interp[0].TimestampUS != 150 || interp[0].DataType.IMU.Acceleration.X != 150 {
		t.Fatalf("expected linear IMU value 150, got %+v", interp[0].DataType.IMU)
	}
	if interp[0].Metadata["interpolated"] != true {
		t.Fatalf("interpolated reading not marked")
	}
	if _, ok := interp[1].Metadata["interpolated"]; ok {
		t.Fatalf("exact match should not be marked interpolated")
	}

	agg, err := b.Aggregate(ctx, "imu", 0, 999, 500)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(agg) != 2 || agg[0].TimeRange.ReadingCount != 5 || agg[1].TimeRange.ReadingCount != 5 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}

	gaps, err := b.DetectGaps(ctx, "imu", 0, 10_000, 1000)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if len(gaps) != 1 || gaps[0].StartTimeUS != 900 || gaps[0].EndTimeUS != 5000 {
		t.Fatalf("unexpected gaps: %+v", gaps)
	}
}

func TestAggregateOverFullTimeline(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)
	for _, ts := range []int64{-1000, 0, 1000} {
		_ = b.StoreReading(ctx, imuReading("imu", ts, 1))
	}

	agg, err := b.Aggregate(ctx, "imu", math.MinInt64, math.MaxInt64, 1000)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	var starts []int64
	for _, s := range agg {
		starts = append(starts, s.TimeRange.StartTimeUS)
	}
	if !reflect.DeepEqual(starts, []int64{-1000, 0, 1000}) {
		t.Fatalf("windows out of order over the full timeline: %v", starts)
	}

	agg, err = b.Aggregate(ctx, "imu", math.MinInt64, math.MaxInt64, 1<<62)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(agg) != 2 || agg[0].TimeRange.ReadingCount != 1 || agg[1].TimeRange.ReadingCount != 2 {
		t.Fatalf("unexpected wide windows: %+v", agg)
	}
}

func TestUnsupportedOperationsFailLoudly(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t, WithFeatures(ports.BasicFeatures()))

	if _, err := b.Downsample(ctx, "x", 0, 1, 1); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("downsample: expected unsupported, got %v", err)
	}
	if _, err := b.Aggregate(ctx, "x", 0, 1, 1); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("aggregate: expected unsupported, got %v", err)
	}
	if err := b.Backup(ctx, filepath.Join(t.TempDir(), "x")); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("backup: expected unsupported, got %v", err)
	}
	if b.StreamingProvider() != nil || b.TransactionProvider() != nil {
		t.Fatalf("capability probes should report nil for basic features")
	}
}

func TestMetadataAndConfigStore(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)

	if m, err := b.GetSensorMetadata(ctx, "cam"); err != nil || m != nil {
		t.Fatalf("expected nil metadata, got %v %v", m, err)
	}
	m := &domain.SensorMetadata{SensorID: "cam", Name: "Front camera", SensorType: domain.CameraData(domain.CameraParams{Width: 640, Height: 480, Format: domain.FormatRGB24})}
	if err := b.UpdateSensorMetadata(ctx, m); !errors.Is(err, domain.ErrSensorNotFound) {
		t.Fatalf("update of unknown metadata should fail, got %v", err)
	}
	if err := b.StoreSensorMetadata(ctx, m); err != nil {
		t.Fatalf("store metadata: %v", err)
	}
	m.Name = "Front"
	if err := b.UpdateSensorMetadata(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := b.GetSensorMetadata(ctx, "cam")
	if got.Name != "Front" {
		t.Fatalf("expected updated name, got %q", got.Name)
	}

	if err := b.StoreConfig(ctx, "retention", json.RawMessage(`{"days":7}`)); err != nil {
		t.Fatalf("store config: %v", err)
	}
	if err := b.StoreConfig(ctx, "bad", json.RawMessage(`{`)); !errors.Is(err, domain.ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
	v, _ := b.GetConfig(ctx, "retention")
	if string(v) != `{"days":7}` {
		t.Fatalf("unexpected config value %s", v)
	}
	keys, _ := b.ListConfigKeys(ctx)
	if !reflect.DeepEqual(keys, []string{"retention"}) {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestStreamingDeliversStoredReadings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := newConnected(t)

	stream, err := b.StreamingProvider().Subscribe(ctx, []string{"imu"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stream.Close()

	_ = b.StoreReading(ctx, imuReading("gps", 1, 1))
	_ = b.StoreReading(ctx, imuReading("imu", 2, 1))

	select {
	case r := <-stream.C():
		if r.SensorID != "imu" {
			t.Fatalf("received filtered-out sensor %s", r.SensorID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for streamed reading")
	}

	cancel()
	select {
	case _, ok := <-stream.C():
		if ok {
			t.Fatalf("expected closed stream after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("stream not closed after context cancel")
	}
}

func TestTransactionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	b := newConnected(t)
	txp := b.TransactionProvider()

	tx, _ := txp.Begin(ctx)
	_ = tx.StoreReading(ctx, imuReading("imu", 1, 1))
	if got, _ := b.QueryReadings(ctx, domain.AllTimeQuery()); len(got) != 0 {
		t.Fatalf("uncommitted reading visible")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, domain.ErrTransaction) {
		t.Fatalf("double commit should fail, got %v", err)
	}

	tx2, _ := txp.Begin(ctx)
	_ = tx2.StoreReading(ctx, imuReading("imu", 2, 1))
	_ = tx2.Rollback()

	got, _ := b.QueryReadings(ctx, domain.AllTimeQuery())
	if len(got) != 1 || got[0].TimestampUS != 1 {
		t.Fatalf("expected only committed reading, got %d", len(got))
	}
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mock.snap")

	src := newConnected(t)
	_ = src.StoreReading(ctx, imuReading("imu", 10, 0.5))
	_ = src.StoreSensorMetadata(ctx, &domain.SensorMetadata{SensorID: "imu", Name: "IMU"})
	_ = src.StoreConfig(ctx, "k", json.RawMessage(`"v"`))
	if err := src.Backup(ctx, path); err != nil {
		t.Fatalf("backup: %v", err)
	}

	dst := newConnected(t)
	_ = dst.StoreReading(ctx, imuReading("stale", 1, 1))
	if err := dst.Restore(ctx, path); err != nil {
		t.Fatalf("restore: %v", err)
	}
	sensors, _ := dst.ListSensors(ctx)
	if !reflect.DeepEqual(sensors, []string{"imu"}) {
		t.Fatalf("unexpected sensors after restore: %v", sensors)
	}
	if m, _ := dst.GetSensorMetadata(ctx, "imu"); m == nil || m.Name != "IMU" {
		t.Fatalf("metadata not restored")
	}
	if v, _ := dst.GetConfig(ctx, "k"); string(v) != `"v"` {
		t.Fatalf("config not restored: %s", v)
	}
}

func TestHealthCheckReportsDegradedWithoutError(t *testing.T) {
	b := New()
	h, err := b.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check should not error: %v", err)
	}
	if h.IsConnected || h.Error == "" {
		t.Fatalf("expected degraded health, got %+v", h)
	}
	if b.ConnectionInfo() != "mock://localhost/test" || b.DatabaseType() != "mock" {
		t.Fatalf("unexpected identity %s %s", b.DatabaseType(), b.ConnectionInfo())
	}
}
