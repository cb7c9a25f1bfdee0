package sensorreplay

import (
	"github.com/vkanta/glsp-mcp-sub001/internal/app/bridge"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/dataset"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/manager"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// SensorReading is one timestamped measurement. It is the unit the ingest
// pipeline stores and the replay bridge buffers.
type SensorReading = domain.SensorReading

// SensorBatch groups readings for bulk ingestion.
type SensorBatch = domain.SensorBatch

// SensorFrame is what the replay loop hands to publishers: the nearest
// buffered reading of every sensor at one simulation time.
type SensorFrame = domain.SensorFrame

type (
	SensorQuery      = domain.SensorQuery
	SensorDataType   = domain.SensorDataType
	SensorMetadata   = domain.SensorMetadata
	SensorDataset    = domain.SensorDataset
	SensorSelection  = domain.SensorSelection
	ValidationResult = domain.ValidationResult
	TimeRange        = domain.TimeRange
	DatabaseHealth   = domain.DatabaseHealth
	BridgeStatus     = domain.BridgeStatus
)

// Collector streams live readings from any source (OPC UA, simulators, ...)
// into the ingest pipeline.
type Collector = ports.Collector

// ReadingQueue is the bounded queue that decouples collectors from the backend.
type ReadingQueue = ports.ReadingQueue

// Transformer lets callers rewrite readings (calibration, enrichment)
// before they are stored.
type Transformer = ports.Transformer

// FramePublisher delivers replayed frames to an outside consumer.
type FramePublisher = ports.FramePublisher

// Observability emits logs and metrics about ingest, storage and replay.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Database is the full storage backend contract.
type Database = ports.Database

// BackendBuilder constructs a backend for one BackendType.
type BackendBuilder = manager.Builder

type (
	DatabaseManager = manager.DatabaseManager
	DatasetManager  = dataset.DatasetManager
	SensorSelector  = dataset.SensorSelector
	Bridge          = bridge.Bridge
	BridgeConfig    = bridge.Config
)

// Error kinds; test with errors.Is.
var (
	ErrConfiguration        = domain.ErrConfiguration
	ErrConnection           = domain.ErrConnection
	ErrSensorNotFound       = domain.ErrSensorNotFound
	ErrDatasetNotFound      = domain.ErrDatasetNotFound
	ErrFeatureNotSupported  = domain.ErrFeatureNotSupported
	ErrUnsupportedOperation = domain.ErrUnsupportedOperation
	ErrTimeout              = domain.ErrTimeout
	ErrInvalidData          = domain.ErrInvalidData
)

// NewSensorReading builds a reading with full quality.
func NewSensorReading(sensorID string, timestampUS int64, dataType SensorDataType, payload []byte) *SensorReading {
	return domain.NewSensorReading(sensorID, timestampUS, dataType, payload)
}

// NewSensorBatch wraps readings in a batch with a fresh id.
func NewSensorBatch(source string, readings []*SensorReading) *SensorBatch {
	return domain.NewSensorBatch(source, readings)
}

// GenericData describes a reading whose payload layout only the producer knows.
func GenericData(sensorType string, dataSize int) SensorDataType {
	return domain.GenericData(sensorType, dataSize)
}
