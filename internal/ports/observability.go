package ports

import "github.com/vkanta/glsp-mcp-sub001/internal/domain"

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordRejected(r *domain.SensorReading, err error)
}

type Field struct {
	Key   string
	Value any
}

// Metric names shared by the runtime.
const (
	MetricReadingsStored   = "replay_readings_stored_total"
	MetricReadingsRejected = "replay_readings_rejected_total"
	MetricIngestDropped    = "replay_ingest_dropped_total"
	MetricFramesEmitted    = "replay_frames_emitted_total"
	MetricPublishFailures  = "replay_publish_failures_total"
	MetricBackendHealthy   = "replay_backend_healthy"
	MetricQueueLength      = "replay_ingest_queue_length"
	MetricBufferedReadings = "replay_buffered_readings"
	MetricBufferUtil       = "replay_buffer_utilization"
	MetricPlaybackProgress = "replay_playback_progress"
	MetricQueryLatency     = "replay_backend_query_seconds"
	MetricStoreLatency     = "replay_backend_store_seconds"
)
