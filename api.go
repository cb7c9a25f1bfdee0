package sensorreplay

import (
	"context"

	base "github.com/vkanta/glsp-mcp-sub001/pkg/sensorreplay"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull           = base.ErrQueueFull
	ErrIngesterClosed      = base.ErrIngesterClosed
	ErrPublisherClosed     = base.ErrPublisherClosed
	ErrConfiguration       = base.ErrConfiguration
	ErrConnection          = base.ErrConnection
	ErrSensorNotFound      = base.ErrSensorNotFound
	ErrDatasetNotFound     = base.ErrDatasetNotFound
	ErrFeatureNotSupported = base.ErrFeatureNotSupported
	ErrInvalidData         = base.ErrInvalidData
)

// Type aliases so consumers can import the module root directly.
type (
	Config          = base.Config
	DatabaseConfig  = base.DatabaseConfig
	BackendType     = base.BackendType
	ReplayConfig    = base.ReplayConfig
	PublishConfig   = base.PublishConfig
	IngestConfig    = base.IngestConfig
	Policy          = base.Policy
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	MetricsConfig   = base.MetricsConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	Option          = base.Option
	SensorReading   = base.SensorReading
	SensorBatch     = base.SensorBatch
	SensorFrame     = base.SensorFrame
	SensorQuery     = base.SensorQuery
	SensorDataType  = base.SensorDataType
	SensorSelection = base.SensorSelection
	Collector       = base.Collector
	ReadingQueue    = base.ReadingQueue
	Transformer     = base.Transformer
	FramePublisher  = base.FramePublisher
	FrameHandler    = base.FrameHandler
	Observability   = base.Observability
	Database        = base.Database
	BackendBuilder  = base.BackendBuilder
	Ingester        = base.Ingester
	IngesterConfig  = base.IngesterConfig
	ReadingStore    = base.ReadingStore
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...Option) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInQueue(q ReadingQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInTransformer(tr Transformer) StreamInOption {
	return base.StreamInTransformer(tr)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutPublisher(p FramePublisher) StreamOutOption {
	return base.StreamOutPublisher(p)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn FrameHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(ctx context.Context, cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(ctx, cfg, opts...)
}

func WithCollector(col Collector) Option {
	return base.WithCollector(col)
}

func WithTransformer(tr Transformer) Option {
	return base.WithTransformer(tr)
}

func WithReadingQueue(q ReadingQueue) Option {
	return base.WithReadingQueue(q)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithPublisher(p FramePublisher) Option {
	return base.WithPublisher(p)
}

func WithBackend(kind BackendType, b BackendBuilder) Option {
	return base.WithBackend(kind, b)
}

// Publishers.
func NewCallbackPublisher(name string, fn FrameHandler) FramePublisher {
	return base.NewCallbackPublisher(name, fn)
}

func NewChannelPublisher(name string, buffer int) (FramePublisher, <-chan *SensorFrame, func()) {
	return base.NewChannelPublisher(name, buffer)
}

// Ingester.
func NewIngester(cfg *IngesterConfig, store ReadingStore) (*Ingester, error) {
	return base.NewIngester(cfg, store)
}

// Readings.
func NewSensorReading(sensorID string, timestampUS int64, dataType SensorDataType, payload []byte) *SensorReading {
	return base.NewSensorReading(sensorID, timestampUS, dataType, payload)
}

func NewSensorBatch(source string, readings []*SensorReading) *SensorBatch {
	return base.NewSensorBatch(source, readings)
}

func GenericData(sensorType string, dataSize int) SensorDataType {
	return base.GenericData(sensorType, dataSize)
}
