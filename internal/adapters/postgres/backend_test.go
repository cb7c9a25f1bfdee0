package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

var insertTwoRows = regexp.QuoteMeta("INSERT INTO sensor_readings (sensor_id, timestamp_us, data_type, payload, quality, metadata, checksum) VALUES " +
	"($1,$2,$3,$4,$5,$6,$7),($8,$9,$10,$11,$12,$13,$14) ON CONFLICT (sensor_id, timestamp_us) DO NOTHING")

func connected(t *testing.T) (*Backend, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sensor_readings").WillReturnResult(sqlmock.NewResult(0, 0))

	b := New(db, Options{Info: "postgresql://db:5432/sensors"})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return b, mock, db
}

func readingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"sensor_id", "timestamp_us", "data_type", "payload", "quality", "metadata", "checksum"})
}

func genericType() []byte {
	return []byte(`{"type":"generic","params":{"sensor_type":"imu","data_size":2}}`)
}

func TestConnectBootstrapsSchema(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	if !b.IsConnected() {
		t.Fatalf("expected connected backend")
	}
	if b.DatabaseType() != "postgresql" {
		t.Fatalf("unexpected database type %s", b.DatabaseType())
	}
	if b.ConnectionInfo() != "postgresql://db:5432/sensors" {
		t.Fatalf("unexpected connection info %s", b.ConnectionInfo())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	b := New(db, Options{})
	r := domain.NewSensorReading("imu", 1, domain.GenericData("imu", 0), nil)
	if err := b.StoreReading(context.Background(), r); !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if _, err := b.ListSensors(context.Background()); !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestStoreBatchInsertsInTransaction(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	batch := domain.NewSensorBatch("test", []*domain.SensorReading{
		domain.NewSensorReading("imu", 100, domain.GenericData("imu", 2), []byte{1, 2}),
		domain.NewSensorReading("imu", 200, domain.GenericData("imu", 2), []byte{3, 4}),
	})

	mock.ExpectBegin()
	mock.ExpectExec(insertTwoRows).
		WithArgs(
			"imu", int64(100), sqlmock.AnyArg(), []byte{1, 2}, 1.0, "{}", "",
			"imu", int64(200), sqlmock.AnyArg(), []byte{3, 4}, 1.0, "{}", "",
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := b.StoreBatch(context.Background(), batch); err != nil {
		t.Fatalf("store batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreBatchRollsBackOnFailure(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	batch := domain.NewSensorBatch("test", []*domain.SensorReading{
		domain.NewSensorReading("imu", 100, domain.GenericData("imu", 0), nil),
		domain.NewSensorReading("imu", 200, domain.GenericData("imu", 0), nil),
	})

	mock.ExpectBegin()
	mock.ExpectExec(insertTwoRows).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := b.StoreBatch(context.Background(), batch)
	if !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreBatchValidatesBeforeWriting(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	bad := domain.NewSensorReading("imu", 200, domain.GenericData("imu", 0), nil)
	bad.Quality = 2
	batch := domain.NewSensorBatch("test", []*domain.SensorReading{
		domain.NewSensorReading("imu", 100, domain.GenericData("imu", 0), nil),
		bad,
	})
	if err := b.StoreBatch(context.Background(), batch); !errors.Is(err, domain.ErrInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statements expected: %v", err)
	}
}

func TestQueryReadingsBuildsFilters(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	expected := regexp.QuoteMeta("SELECT sensor_id, timestamp_us, data_type, payload, quality, metadata, checksum FROM sensor_readings " +
		"WHERE timestamp_us >= $1 AND timestamp_us <= $2 AND sensor_id = ANY($3) AND quality >= $4 " +
		"ORDER BY timestamp_us, sensor_id LIMIT $5")
	mock.ExpectQuery(expected).
		WithArgs(int64(0), int64(1000), sqlmock.AnyArg(), 0.5, 10).
		WillReturnRows(readingRows().
			AddRow("imu", int64(100), genericType(), []byte{1, 2}, 0.9, []byte(`{"frame":"base"}`), "").
			AddRow("imu", int64(200), genericType(), []byte{3, 4}, 0.8, []byte(`{}`), ""))

	q := domain.TimeRangeQuery(0, 1000).WithSensors("imu").WithMinQuality(0.5).WithLimit(10)
	got, err := b.QueryReadings(context.Background(), q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(got))
	}
	first := got[0]
	if first.TimestampUS != 100 || first.DataType.Kind != domain.KindGeneric || first.Metadata["frame"] != "base" {
		t.Fatalf("unexpected first reading: %+v", first)
	}
	if first.DataType.Generic == nil || first.DataType.Generic.SensorType != "imu" {
		t.Fatalf("expected decoded generic params, got %+v", first.DataType)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueryReadingsDownsamplesPerBucket(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (sensor_id, FLOOR(timestamp_us::numeric / $4))")).
		WithArgs(int64(0), int64(10_000), sqlmock.AnyArg(), int64(500)).
		WillReturnRows(readingRows().AddRow("imu", int64(0), genericType(), []byte{}, 1.0, []byte(`{}`), ""))

	got, err := b.Downsample(context.Background(), "imu", 0, 10_000, 500)
	if err != nil {
		t.Fatalf("downsample: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(got))
	}
}

func TestGetReadingAtTime(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	nearest := regexp.QuoteMeta("ORDER BY ABS(timestamp_us - $2), timestamp_us LIMIT 1")
	mock.ExpectQuery(nearest).
		WithArgs("imu", int64(150)).
		WillReturnRows(readingRows().AddRow("imu", int64(100), genericType(), []byte{1}, 1.0, []byte(`{}`), ""))
	mock.ExpectQuery(nearest).
		WithArgs("missing", int64(150)).
		WillReturnRows(readingRows())

	r, err := b.GetReadingAtTime(context.Background(), "imu", 150)
	if err != nil || r == nil || r.TimestampUS != 100 {
		t.Fatalf("expected nearest reading at 100, got %+v, %v", r, err)
	}
	r, err = b.GetReadingAtTime(context.Background(), "missing", 150)
	if err != nil || r != nil {
		t.Fatalf("expected no reading for unknown sensor, got %+v, %v", r, err)
	}
}

func TestInterpolateUsesNearestReading(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	mock.ExpectQuery("ORDER BY ABS").
		WithArgs("imu", int64(140)).
		WillReturnRows(readingRows().AddRow("imu", int64(100), genericType(), []byte{1}, 1.0, []byte(`{}`), "abc"))

	got, err := b.Interpolate(context.Background(), "imu", []int64{140})
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	r := got[0]
	if r.TimestampUS != 140 || r.Metadata["interpolated"] != true || r.Metadata["source_timestamp_us"] != int64(100) || r.Checksum != "" {
		t.Fatalf("unexpected interpolated reading: %+v", r)
	}
}

func TestTimeRangeAndStatistics(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), MIN(timestamp_us), MAX(timestamp_us), COALESCE(SUM(LENGTH(payload)), 0) FROM sensor_readings WHERE sensor_id = $1")).
		WithArgs("empty").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max", "size"}).AddRow(int64(0), nil, nil, int64(0)))

	tr, err := b.GetTimeRange(context.Background(), "empty")
	if err != nil || tr != nil {
		t.Fatalf("expected nil range for empty sensor, got %+v, %v", tr, err)
	}

	statsCols := []string{"count", "min", "max", "avg", "size", "gaps"}
	mock.ExpectQuery("LAG\\(timestamp_us\\)").
		WithArgs("imu", int64(1_000_000)).
		WillReturnRows(sqlmock.NewRows(statsCols).AddRow(int64(5), int64(0), int64(1_000_000), 0.75, int64(10), int64(1)))
	mock.ExpectQuery("LAG\\(timestamp_us\\)").
		WithArgs("ghost", int64(1_000_000)).
		WillReturnRows(sqlmock.NewRows(statsCols).AddRow(int64(0), nil, nil, 0.0, int64(0), int64(0)))

	stats, err := b.GetSensorStatistics(context.Background(), "imu")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.AvgSamplingRateHz != 5 || stats.GapCount != 1 || stats.AvgQuality != 0.75 || stats.TotalSizeBytes != 10 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if _, err := b.GetSensorStatistics(context.Background(), "ghost"); !errors.Is(err, domain.ErrSensorNotFound) {
		t.Fatalf("expected sensor not found, got %v", err)
	}
}

func TestDeleteReadingsReturnsAffectedRows(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sensor_readings WHERE sensor_id = $1 AND timestamp_us >= $2 AND timestamp_us <= $3")).
		WithArgs("imu", int64(10), int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := b.DeleteReadings(context.Background(), "imu", 10, 20)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 deleted rows, got %d, %v", n, err)
	}
}

func TestMetadataAndConfig(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO sensor_metadata").
		WithArgs("imu", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT doc FROM sensor_metadata WHERE sensor_id").
		WithArgs("imu").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow([]byte(`{"sensor_id":"imu","name":"front imu","is_active":true}`)))
	mock.ExpectExec("UPDATE sensor_metadata").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT value FROM config_store").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	if err := b.StoreSensorMetadata(ctx, &domain.SensorMetadata{SensorID: "imu", Name: "front imu", IsActive: true}); err != nil {
		t.Fatalf("store metadata: %v", err)
	}
	m, err := b.GetSensorMetadata(ctx, "imu")
	if err != nil || m == nil || m.Name != "front imu" {
		t.Fatalf("unexpected metadata %+v, %v", m, err)
	}
	if err := b.UpdateSensorMetadata(ctx, &domain.SensorMetadata{SensorID: "ghost"}); !errors.Is(err, domain.ErrSensorNotFound) {
		t.Fatalf("expected sensor not found on update, got %v", err)
	}
	v, err := b.GetConfig(ctx, "missing")
	if err != nil || v != nil {
		t.Fatalf("expected nil config, got %s, %v", v, err)
	}
	if err := b.StoreConfig(ctx, "bad", []byte("{")); !errors.Is(err, domain.ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sensor_readings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := b.TransactionProvider().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.StoreReading(ctx, domain.NewSensorReading("imu", 1, domain.GenericData("imu", 0), nil)); err != nil {
		t.Fatalf("store in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, domain.ErrTransaction) {
		t.Fatalf("expected transaction error on second commit, got %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback after commit should be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	b, _, db := connected(t)
	defer db.Close()
	ctx := context.Background()

	f := b.SupportedFeatures()
	if f.Aggregation || f.GapDetection || f.BackupRestore || f.Streaming {
		t.Fatalf("unexpected features advertised: %+v", f)
	}
	if !f.Transactions || !f.Downsampling || !f.Interpolation {
		t.Fatalf("expected transactional time series features: %+v", f)
	}
	if _, err := b.Aggregate(ctx, "imu", 0, 10, 5); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported aggregate, got %v", err)
	}
	if _, err := b.DetectGaps(ctx, "imu", 0, 10, 5); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported detect gaps, got %v", err)
	}
	if err := b.Backup(ctx, "/tmp/x"); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported backup, got %v", err)
	}
	if b.StreamingProvider() != nil {
		t.Fatalf("expected no streaming provider")
	}
}

func TestHealthCheck(t *testing.T) {
	b, mock, db := connected(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT version()")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("PostgreSQL 16.2"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version()")).
		WillReturnError(errors.New("connection reset"))

	h, err := b.HealthCheck(context.Background())
	if err != nil || !h.IsConnected || h.Version != "PostgreSQL 16.2" {
		t.Fatalf("unexpected health %+v, %v", h, err)
	}
	h, err = b.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("degraded health must not error: %v", err)
	}
	if h.IsConnected || h.Error == "" {
		t.Fatalf("expected degraded health, got %+v", h)
	}
}

func TestClassify(t *testing.T) {
	if err := classify(domain.ErrRead, "q", context.DeadlineExceeded); !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if err := classify(domain.ErrRead, "q", fmt.Errorf("wrapped: %w", sql.ErrConnDone)); !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if err := classify(domain.ErrWrite, "q", errors.New("constraint")); !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestCloseReleasesPoolAfterFailedConnect(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	b := New(db, Options{})
	if err := b.Connect(context.Background()); !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("pool not closed: %v", err)
	}
}
