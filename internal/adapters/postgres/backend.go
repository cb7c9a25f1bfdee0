package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const (
	backendName = "postgresql"

	// rowsPerInsert keeps multi-row inserts under the 65535 bind parameter limit.
	rowsPerInsert = 1000

	readingColumns = "sensor_id, timestamp_us, data_type, payload, quality, metadata, checksum"
)

const schema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	sensor_id    TEXT             NOT NULL,
	timestamp_us BIGINT           NOT NULL,
	data_type    JSONB            NOT NULL,
	payload      BYTEA            NOT NULL,
	quality      DOUBLE PRECISION NOT NULL,
	metadata     JSONB            NOT NULL DEFAULT '{}',
	checksum     TEXT             NOT NULL DEFAULT '',
	PRIMARY KEY (sensor_id, timestamp_us)
);
CREATE INDEX IF NOT EXISTS sensor_readings_ts_idx ON sensor_readings (timestamp_us);
CREATE TABLE IF NOT EXISTS sensor_metadata (
	sensor_id TEXT PRIMARY KEY,
	doc       JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS config_store (
	key   TEXT PRIMARY KEY,
	value JSONB NOT NULL
);`

// Options configure the connection pool. DSN carries credentials; Info is
// the redacted form reported by ConnectionInfo.
type Options struct {
	DSN             string
	Info            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	GapThresholdUS  int64
}

// Backend stores readings in PostgreSQL through lib/pq.
type Backend struct {
	mu        sync.RWMutex
	db        *sql.DB
	connected bool
	opts      Options
	features  ports.DatabaseFeatures
}

// Open prepares a pool for opts.DSN. No connection is made until Connect.
func Open(opts Options) (*Backend, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", domain.ErrConfiguration, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
	return New(db, opts), nil
}

// New wraps an existing pool.
func New(db *sql.DB, opts Options) *Backend {
	if opts.GapThresholdUS <= 0 {
		opts.GapThresholdUS = 1_000_000
	}
	if opts.Info == "" {
		opts.Info = "postgresql://"
	}
	return &Backend{db: db, opts: opts, features: Features()}
}

// Features lists what the PostgreSQL backend serves.
func Features() ports.DatabaseFeatures {
	f := ports.FullFeatures()
	f.Streaming = false
	f.Aggregation = false
	f.GapDetection = false
	f.BackupRestore = false
	return f
}

func (b *Backend) Connect(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return classify(domain.ErrConnection, "ping", err)
	}
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return classify(domain.ErrConnection, "bootstrap schema", err)
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("%w: close pool: %v", domain.ErrConnection, err)
	}
	return nil
}

// Close releases the pool whether or not Connect succeeded.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("%w: close pool: %v", domain.ErrConnection, err)
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
	var version string
	if err := b.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return domain.DegradedHealth(err, time.Since(start)), nil
	}
	open := b.db.Stats().OpenConnections
	return domain.DatabaseHealth{
		IsConnected:       true,
		LatencyMS:         float64(time.Since(start).Microseconds()) / 1000,
		Version:           version,
		ActiveConnections: &open,
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

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *Backend) StoreReading(ctx context.Context, r *domain.SensorReading) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	return insertReadings(ctx, b.db, []*domain.SensorReading{r})
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

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(domain.ErrTransaction, "begin batch", err)
	}
	if err := insertReadings(ctx, tx, batch.Readings); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(domain.ErrTransaction, "commit batch", err)
	}
	return nil
}

// insertReadings writes readings in chunks. Rows that collide on
// (sensor_id, timestamp_us) are skipped.
func insertReadings(ctx context.Context, ex execer, readings []*domain.SensorReading) error {
	for start := 0; start < len(readings); start += rowsPerInsert {
		end := start + rowsPerInsert
		if end > len(readings) {
			end = len(readings)
		}
		query, args, err := buildInsert(readings[start:end])
		if err != nil {
			return err
		}
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return classify(domain.ErrWrite, "insert readings", err)
		}
	}
	return nil
}

func buildInsert(readings []*domain.SensorReading) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO sensor_readings (")
	sb.WriteString(readingColumns)
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(readings)*7)
	for i, r := range readings {
		if i > 0 {
			sb.WriteString(",")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)

		dt, err := json.Marshal(r.DataType)
		if err != nil {
			return "", nil, fmt.Errorf("%w: data type: %v", domain.ErrSerialization, err)
		}
		md := r.Metadata
		if md == nil {
			md = map[string]any{}
		}
		meta, err := json.Marshal(md)
		if err != nil {
			return "", nil, fmt.Errorf("%w: metadata: %v", domain.ErrSerialization, err)
		}
		payload := r.Payload
		if payload == nil {
			payload = []byte{}
		}
		args = append(args, r.SensorID, r.TimestampUS, string(dt), payload, r.Quality, string(meta), r.Checksum)
	}
	sb.WriteString(" ON CONFLICT (sensor_id, timestamp_us) DO NOTHING")
	return sb.String(), args, nil
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (b *Backend) QueryReadings(ctx context.Context, q domain.SensorQuery) ([]*domain.SensorReading, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var w whereBuilder
	w.add("timestamp_us >= $%d", q.StartTimeUS)
	w.add("timestamp_us <= $%d", q.EndTimeUS)
	if len(q.SensorIDs) > 0 {
		w.add("sensor_id = ANY($%d)", pq.Array(q.SensorIDs))
	}
	if q.MinQuality != nil {
		w.add("quality >= $%d", *q.MinQuality)
	}
	if len(q.DataTypes) > 0 {
		kinds := make([]string, len(q.DataTypes))
		for i, k := range q.DataTypes {
			kinds[i] = string(k)
		}
		w.add("data_type->>'type' = ANY($%d)", pq.Array(kinds))
	}

	var query string
	if q.DownsampleIntervalUS > 0 {
		w.args = append(w.args, q.DownsampleIntervalUS)
		bucket := fmt.Sprintf("FLOOR(timestamp_us::numeric / $%d)", len(w.args))
		query = "SELECT " + readingColumns + " FROM (SELECT DISTINCT ON (sensor_id, " + bucket + ") " +
			readingColumns + " FROM sensor_readings" + w.String() +
			" ORDER BY sensor_id, " + bucket + ", timestamp_us) d ORDER BY timestamp_us, sensor_id"
	} else {
		query = "SELECT " + readingColumns + " FROM sensor_readings" + w.String() + " ORDER BY timestamp_us, sensor_id"
	}
	if q.Limit > 0 {
		w.args = append(w.args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(w.args))
	}
	return b.queryReadings(ctx, query, w.args...)
}

func (b *Backend) queryReadings(ctx context.Context, query string, args ...any) ([]*domain.SensorReading, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(domain.ErrRead, "query readings", err)
	}
	defer rows.Close()

	var out []*domain.SensorReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(domain.ErrRead, "iterate readings", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(s scanner) (*domain.SensorReading, error) {
	var (
		r        domain.SensorReading
		dataType []byte
		meta     []byte
	)
	if err := s.Scan(&r.SensorID, &r.TimestampUS, &dataType, &r.Payload, &r.Quality, &meta, &r.Checksum); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dataType, &r.DataType); err != nil {
		return nil, fmt.Errorf("%w: data type of %s: %v", domain.ErrSerialization, r.SensorID, err)
	}
	r.Metadata = make(map[string]any)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata of %s: %v", domain.ErrSerialization, r.SensorID, err)
		}
	}
	return &r, nil
}

func (b *Backend) GetReadingAtTime(ctx context.Context, sensorID string, tsUS int64) (*domain.SensorReading, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	row := b.db.QueryRowContext(ctx,
		"SELECT "+readingColumns+" FROM sensor_readings WHERE sensor_id = $1 ORDER BY ABS(timestamp_us - $2), timestamp_us LIMIT 1",
		sensorID, tsUS)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(domain.ErrRead, "nearest reading", err)
	}
	return r, nil
}

const rangeColumns = "COUNT(*), MIN(timestamp_us), MAX(timestamp_us), COALESCE(SUM(LENGTH(payload)), 0)"

func (b *Backend) GetTimeRange(ctx context.Context, sensorID string) (*domain.TimeRange, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	return scanRange(b.db.QueryRowContext(ctx,
		"SELECT "+rangeColumns+" FROM sensor_readings WHERE sensor_id = $1", sensorID))
}

func (b *Backend) GetGlobalTimeRange(ctx context.Context) (*domain.TimeRange, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	return scanRange(b.db.QueryRowContext(ctx, "SELECT "+rangeColumns+" FROM sensor_readings"))
}

func scanRange(row *sql.Row) (*domain.TimeRange, error) {
	var (
		count    int64
		min, max sql.NullInt64
		size     int64
	)
	if err := row.Scan(&count, &min, &max, &size); err != nil {
		return nil, classify(domain.ErrRead, "time range", err)
	}
	if count == 0 {
		return nil, nil
	}
	return &domain.TimeRange{
		StartTimeUS:   min.Int64,
		EndTimeUS:     max.Int64,
		ReadingCount:  count,
		DataSizeBytes: size,
	}, nil
}

func (b *Backend) ListSensors(ctx context.Context) ([]string, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, "SELECT DISTINCT sensor_id FROM sensor_readings ORDER BY sensor_id")
	if err != nil {
		return nil, classify(domain.ErrRead, "list sensors", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(domain.ErrRead, "list sensors", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const statsQuery = `SELECT COUNT(*), MIN(timestamp_us), MAX(timestamp_us),
	COALESCE(AVG(quality), 0), COALESCE(SUM(LENGTH(payload)), 0),
	COUNT(*) FILTER (WHERE gap > $2)
FROM (
	SELECT timestamp_us, quality, payload,
		timestamp_us - LAG(timestamp_us) OVER (ORDER BY timestamp_us) AS gap
	FROM sensor_readings WHERE sensor_id = $1
) s`

func (b *Backend) GetSensorStatistics(ctx context.Context, sensorID string) (*domain.SensorStatistics, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	var (
		count, size, gaps int64
		min, max          sql.NullInt64
		avgQuality        float64
	)
	err := b.db.QueryRowContext(ctx, statsQuery, sensorID, b.opts.GapThresholdUS).
		Scan(&count, &min, &max, &avgQuality, &size, &gaps)
	if err != nil {
		return nil, classify(domain.ErrRead, "sensor statistics", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSensorNotFound, sensorID)
	}

	stats := &domain.SensorStatistics{
		SensorID: sensorID,
		TimeRange: domain.TimeRange{
			StartTimeUS:   min.Int64,
			EndTimeUS:     max.Int64,
			ReadingCount:  count,
			DataSizeBytes: size,
		},
		AvgQuality:     avgQuality,
		GapCount:       int(gaps),
		TotalSizeBytes: size,
	}
	if d := stats.TimeRange.DurationUS(); d > 0 {
		stats.AvgSamplingRateHz = float64(count) / (float64(d) / 1e6)
	}
	return stats, nil
}

func (b *Backend) DeleteReadings(ctx context.Context, sensorID string, startUS, endUS int64) (int64, error) {
	if err := b.checkConnected(); err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx,
		"DELETE FROM sensor_readings WHERE sensor_id = $1 AND timestamp_us >= $2 AND timestamp_us <= $3",
		sensorID, startUS, endUS)
	if err != nil {
		return 0, classify(domain.ErrWrite, "delete readings", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(domain.ErrWrite, "delete readings", err)
	}
	return n, nil
}

func (b *Backend) Optimize(ctx context.Context) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, "ANALYZE sensor_readings"); err != nil {
		return classify(domain.ErrWrite, "analyze", err)
	}
	return nil
}

func (b *Backend) Backup(ctx context.Context, destination string) error {
	return ports.Unsupported(backendName, "backup")
}

func (b *Backend) Restore(ctx context.Context, source string) error {
	return ports.Unsupported(backendName, "restore")
}

func (b *Backend) StreamingProvider() ports.StreamingProvider { return nil }

func (b *Backend) TransactionProvider() ports.TransactionProvider { return txProvider{b: b} }

// classify wraps a driver error in the matching domain sentinel.
func classify(kind error, op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", domain.ErrTimeout, op, err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %s: %v", domain.ErrConnection, op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "08" {
		return fmt.Errorf("%w: %s: %v", domain.ErrConnection, op, err)
	}
	return fmt.Errorf("%w: %s: %v", kind, op, err)
}

var _ ports.Database = (*Backend)(nil)
