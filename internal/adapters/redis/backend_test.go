package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

func newBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), Options{Addr: mr.Addr()})
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })
	return b, mr
}

func gpsReading(sensor string, ts int64, quality float64) *domain.SensorReading {
	r := domain.NewSensorReading(sensor, ts, domain.GPSData(domain.GPSParams{Latitude: 48.1, Longitude: 11.5}), []byte{1, 2, 3, 4})
	r.Quality = quality
	return r
}

func TestStoreUsesSortedSetPerSensor(t *testing.T) {
	b, mr := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.StoreReading(ctx, gpsReading("gps_main", 100, 1)))
	require.NoError(t, b.StoreReading(ctx, gpsReading("gps_main", 200, 1)))

	members, err := mr.ZMembers("sensor:gps_main:readings")
	require.NoError(t, err)
	require.Len(t, members, 2)

	ok, err := mr.SIsMember("sensors", "gps_main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "redis://"+mr.Addr(), b.ConnectionInfo())
}

func TestQueryReadingsFiltersAndOrders(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	batch := domain.NewSensorBatch("test", []*domain.SensorReading{
		gpsReading("gps_b", 300, 0.9),
		gpsReading("gps_a", 100, 0.4),
		gpsReading("gps_a", 200, 0.8),
		gpsReading("gps_b", 400, 0.95),
	})
	require.NoError(t, b.StoreBatch(ctx, batch))

	all, err := b.QueryReadings(ctx, domain.AllTimeQuery())
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		require.LessOrEqual(t, all[i-1].TimestampUS, all[i].TimestampUS)
	}

	got, err := b.QueryReadings(ctx, domain.TimeRangeQuery(150, 400).WithMinQuality(0.85).WithLimit(1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(300), got[0].TimestampUS)
	require.Equal(t, domain.KindGPS, got[0].DataType.Kind)
	require.Equal(t, []byte{1, 2, 3, 4}, got[0].Payload)

	got, err = b.QueryReadings(ctx, domain.AllTimeQuery().WithSensors("gps_a").WithDataTypes(domain.KindIMU))
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = b.QueryReadings(ctx, domain.AllTimeQuery().WithDownsample(10))
	require.ErrorIs(t, err, domain.ErrUnsupportedOperation)
}

func TestGetReadingAtTimePrefersEarlierOnTie(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.StoreReading(ctx, gpsReading("gps", 100, 1)))
	require.NoError(t, b.StoreReading(ctx, gpsReading("gps", 200, 1)))

	r, err := b.GetReadingAtTime(ctx, "gps", 150)
	require.NoError(t, err)
	require.Equal(t, int64(100), r.TimestampUS)

	r, err = b.GetReadingAtTime(ctx, "gps", 190)
	require.NoError(t, err)
	require.Equal(t, int64(200), r.TimestampUS)

	r, err = b.GetReadingAtTime(ctx, "unknown", 150)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestTimeRangesStatisticsAndDelete(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	for _, ts := range []int64{0, 250_000, 500_000, 2_000_000} {
		require.NoError(t, b.StoreReading(ctx, gpsReading("gps", ts, 0.5)))
	}
	require.NoError(t, b.StoreReading(ctx, gpsReading("other", 3_000_000, 1)))

	tr, err := b.GetTimeRange(ctx, "gps")
	require.NoError(t, err)
	require.Equal(t, domain.TimeRange{StartTimeUS: 0, EndTimeUS: 2_000_000, ReadingCount: 4, DataSizeBytes: 16}, *tr)

	global, err := b.GetGlobalTimeRange(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3_000_000), global.EndTimeUS)
	require.Equal(t, int64(5), global.ReadingCount)

	stats, err := b.GetSensorStatistics(ctx, "gps")
	require.NoError(t, err)
	require.Equal(t, 1, stats.GapCount)
	require.InDelta(t, 2.0, stats.AvgSamplingRateHz, 1e-9)
	require.InDelta(t, 0.5, stats.AvgQuality, 1e-9)

	_, err = b.GetSensorStatistics(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrSensorNotFound)

	n, err := b.DeleteReadings(ctx, "gps", 250_000, 500_000)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	tr, err = b.GetTimeRange(ctx, "gps")
	require.NoError(t, err)
	require.Equal(t, int64(2), tr.ReadingCount)
	require.Equal(t, int64(8), tr.DataSizeBytes)

	_, err = b.DeleteReadings(ctx, "other", 0, 5_000_000)
	require.NoError(t, err)
	sensors, err := b.ListSensors(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"gps"}, sensors)
}

func TestBatchIsValidatedAndBounded(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	bad := gpsReading("gps", 200, 1.5)
	err := b.StoreBatch(ctx, domain.NewSensorBatch("test", []*domain.SensorReading{gpsReading("gps", 100, 1), bad}))
	require.ErrorIs(t, err, domain.ErrInvalidData)

	sensors, err := b.ListSensors(ctx)
	require.NoError(t, err)
	require.Empty(t, sensors)

	big := make([]*domain.SensorReading, b.SupportedFeatures().MaxBatchSize+1)
	for i := range big {
		big[i] = gpsReading("gps", int64(i), 1)
	}
	require.ErrorIs(t, b.StoreBatch(ctx, domain.NewSensorBatch("test", big)), domain.ErrWrite)
}

func TestMetadataAndConfigHashes(t *testing.T) {
	b, mr := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.StoreSensorMetadata(ctx, &domain.SensorMetadata{SensorID: "gps", Name: "roof gps", IsActive: true}))
	require.NoError(t, b.StoreSensorMetadata(ctx, &domain.SensorMetadata{SensorID: "cam", Name: "front camera"}))

	m, err := b.GetSensorMetadata(ctx, "gps")
	require.NoError(t, err)
	require.Equal(t, "roof gps", m.Name)

	list, err := b.ListSensorMetadata(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "cam", list[0].SensorID)

	require.ErrorIs(t, b.UpdateSensorMetadata(ctx, &domain.SensorMetadata{SensorID: "ghost"}), domain.ErrSensorNotFound)
	require.NoError(t, b.DeleteSensorMetadata(ctx, "cam"))
	m, err = b.GetSensorMetadata(ctx, "cam")
	require.NoError(t, err)
	require.Nil(t, m)

	require.NoError(t, b.StoreConfig(ctx, "dataset:abc", json.RawMessage(`{"name":"drive"}`)))
	require.NoError(t, b.StoreConfig(ctx, "alpha", json.RawMessage(`1`)))
	require.True(t, mr.Exists("config_store"))

	v, err := b.GetConfig(ctx, "dataset:abc")
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"drive"}`, string(v))

	keys, err := b.ListConfigKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "dataset:abc"}, keys)

	require.NoError(t, b.DeleteConfig(ctx, "alpha"))
	v, err = b.GetConfig(ctx, "alpha")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSubscribeReceivesStoredReadings(t *testing.T) {
	b, _ := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := b.StreamingProvider().Subscribe(ctx, []string{"gps"})
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, b.StoreReading(context.Background(), gpsReading("other", 1, 1)))
	require.NoError(t, b.StoreReading(context.Background(), gpsReading("gps", 42, 1)))

	select {
	case r := <-stream.C():
		require.Equal(t, "gps", r.SensorID)
		require.Equal(t, int64(42), r.TimestampUS)
	case <-time.After(2 * time.Second):
		t.Fatal("no reading received")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-stream.C():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransactionCommitsAtomically(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	tx, err := b.TransactionProvider().Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StoreReading(ctx, gpsReading("gps", 1, 1)))
	require.NoError(t, tx.StoreReading(ctx, gpsReading("gps", 2, 1)))

	sensors, err := b.ListSensors(ctx)
	require.NoError(t, err)
	require.Empty(t, sensors)

	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), domain.ErrTransaction)

	got, err := b.QueryReadings(ctx, domain.AllTimeQuery())
	require.NoError(t, err)
	require.Len(t, got, 2)

	tx, err = b.TransactionProvider().Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StoreReading(ctx, gpsReading("gps", 3, 1)))
	require.NoError(t, tx.Rollback())
	got, err = b.QueryReadings(ctx, domain.AllTimeQuery())
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestUnsupportedTimeSeriesOperations(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	f := b.SupportedFeatures()
	require.True(t, f.Streaming)
	require.False(t, f.Downsampling)

	_, err := b.Downsample(ctx, "gps", 0, 10, 1)
	require.ErrorIs(t, err, domain.ErrUnsupportedOperation)
	_, err = b.Interpolate(ctx, "gps", []int64{1})
	require.ErrorIs(t, err, domain.ErrUnsupportedOperation)
	_, err = b.Aggregate(ctx, "gps", 0, 10, 1)
	require.ErrorIs(t, err, domain.ErrUnsupportedOperation)
	_, err = b.DetectGaps(ctx, "gps", 0, 10, 1)
	require.ErrorIs(t, err, domain.ErrUnsupportedOperation)
	require.ErrorIs(t, b.Backup(ctx, "x"), domain.ErrUnsupportedOperation)
}

func TestHealthCheckDegradesWhenClientIsGone(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	h, err := b.HealthCheck(ctx)
	require.NoError(t, err)
	require.True(t, h.IsConnected)

	require.NoError(t, b.client.Close())
	h, err = b.HealthCheck(ctx)
	require.NoError(t, err)
	require.False(t, h.IsConnected)
	require.NotEmpty(t, h.Error)
}

func TestRequiresConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), Options{Addr: mr.Addr()})

	_, err := b.ListSensors(context.Background())
	require.ErrorIs(t, err, domain.ErrConnection)
}
