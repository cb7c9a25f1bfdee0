package ports

import (
	"context"
	"encoding/json"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

// DatabaseProvider manages the connection to a backend. HealthCheck returns a
// degraded DatabaseHealth on failure; an error means misconfiguration.
type DatabaseProvider interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	HealthCheck(ctx context.Context) (domain.DatabaseHealth, error)
	DatabaseType() string
	// ConnectionInfo never contains credentials.
	ConnectionInfo() string
}

// SensorDataRepository stores and queries raw readings.
type SensorDataRepository interface {
	StoreReading(ctx context.Context, r *domain.SensorReading) error
	// StoreBatch is atomic per call.
	StoreBatch(ctx context.Context, b *domain.SensorBatch) error
	QueryReadings(ctx context.Context, q domain.SensorQuery) ([]*domain.SensorReading, error)
	// GetReadingAtTime returns the reading nearest to tsUS, or nil if the sensor has none.
	GetReadingAtTime(ctx context.Context, sensorID string, tsUS int64) (*domain.SensorReading, error)
	GetTimeRange(ctx context.Context, sensorID string) (*domain.TimeRange, error)
	GetGlobalTimeRange(ctx context.Context) (*domain.TimeRange, error)
	ListSensors(ctx context.Context) ([]string, error)
	GetSensorStatistics(ctx context.Context, sensorID string) (*domain.SensorStatistics, error)
	DeleteReadings(ctx context.Context, sensorID string, startUS, endUS int64) (int64, error)
}

// TimeSeriesStore holds optional temporal operations. Backends report which
// ones they serve through DatabaseFeatures.
type TimeSeriesStore interface {
	Downsample(ctx context.Context, sensorID string, startUS, endUS, intervalUS int64) ([]*domain.SensorReading, error)
	Interpolate(ctx context.Context, sensorID string, timestampsUS []int64) ([]*domain.SensorReading, error)
	Aggregate(ctx context.Context, sensorID string, startUS, endUS, windowUS int64) ([]domain.SensorStatistics, error)
	DetectGaps(ctx context.Context, sensorID string, startUS, endUS, maxGapUS int64) ([]domain.TimeRange, error)
}

type MetadataStore interface {
	StoreSensorMetadata(ctx context.Context, m *domain.SensorMetadata) error
	GetSensorMetadata(ctx context.Context, sensorID string) (*domain.SensorMetadata, error)
	ListSensorMetadata(ctx context.Context) ([]*domain.SensorMetadata, error)
	UpdateSensorMetadata(ctx context.Context, m *domain.SensorMetadata) error
	DeleteSensorMetadata(ctx context.Context, sensorID string) error

	StoreConfig(ctx context.Context, key string, value json.RawMessage) error
	// GetConfig returns nil when the key is absent.
	GetConfig(ctx context.Context, key string) (json.RawMessage, error)
	ListConfigKeys(ctx context.Context) ([]string, error)
	DeleteConfig(ctx context.Context, key string) error
}

// SensorStream delivers live readings until closed.
type SensorStream interface {
	C() <-chan *domain.SensorReading
	Close() error
}

type StreamingProvider interface {
	Subscribe(ctx context.Context, sensorIDs []string) (SensorStream, error)
	Publish(ctx context.Context, r *domain.SensorReading) error
}

type Transaction interface {
	StoreReading(ctx context.Context, r *domain.SensorReading) error
	StoreBatch(ctx context.Context, b *domain.SensorBatch) error
	Commit() error
	Rollback() error
}

type TransactionProvider interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Database is the full contract a backend implements.
type Database interface {
	DatabaseProvider
	SensorDataRepository
	TimeSeriesStore
	MetadataStore

	SupportedFeatures() DatabaseFeatures
	Optimize(ctx context.Context) error
	Backup(ctx context.Context, destination string) error
	Restore(ctx context.Context, source string) error

	// StreamingProvider returns nil when the backend cannot stream.
	StreamingProvider() StreamingProvider
	// TransactionProvider returns nil when the backend has no transactions.
	TransactionProvider() TransactionProvider
}
