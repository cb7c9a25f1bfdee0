package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SensorReading is a single time-stamped sample from one sensor. Readings are
// immutable once handed to a backend; backends store and return clones.
type SensorReading struct {
	SensorID    string         `json:"sensor_id"`
	TimestampUS int64          `json:"timestamp_us"`
	DataType    SensorDataType `json:"data_type"`
	Payload     []byte         `json:"payload"`
	Quality     float64        `json:"quality"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Checksum    string         `json:"checksum,omitempty"`
}

// NewSensorReading builds a reading with full quality.
func NewSensorReading(sensorID string, timestampUS int64, dataType SensorDataType, payload []byte) *SensorReading {
	return &SensorReading{
		SensorID:    sensorID,
		TimestampUS: timestampUS,
		DataType:    dataType,
		Payload:     payload,
		Quality:     1.0,
		Metadata:    make(map[string]any),
	}
}

func (r *SensorReading) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil reading", ErrInvalidData)
	}
	if r.SensorID == "" {
		return fmt.Errorf("%w: sensor_id is required", ErrInvalidData)
	}
	if r.Quality < 0 || r.Quality > 1 {
		return fmt.Errorf("%w: quality %.3f outside [0,1] for sensor %s", ErrInvalidData, r.Quality, r.SensorID)
	}
	return nil
}

// Clone returns a deep copy of payload and metadata.
func (r *SensorReading) Clone() *SensorReading {
	if r == nil {
		return nil
	}
	out := *r
	if r.Payload != nil {
		out.Payload = append([]byte(nil), r.Payload...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Size is the payload size in bytes.
func (r *SensorReading) Size() int64 { return int64(len(r.Payload)) }

// WithChecksum stamps the SHA-256 of the payload and returns r.
func (r *SensorReading) WithChecksum() *SensorReading {
	r.Checksum = payloadChecksum(r.Payload)
	return r
}

// VerifyChecksum reports whether the payload matches the stored checksum.
// Readings without a checksum always verify.
func (r *SensorReading) VerifyChecksum() bool {
	if r.Checksum == "" {
		return true
	}
	return r.Checksum == payloadChecksum(r.Payload)
}

func payloadChecksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SensorBatch groups readings for bulk ingestion.
type SensorBatch struct {
	BatchID   string           `json:"batch_id"`
	Readings  []*SensorReading `json:"readings"`
	CreatedAt time.Time        `json:"created_at"`
	Source    string           `json:"source"`
}

func NewSensorBatch(source string, readings []*SensorReading) *SensorBatch {
	return &SensorBatch{
		BatchID:   uuid.NewString(),
		Readings:  readings,
		CreatedAt: time.Now().UTC(),
		Source:    source,
	}
}

// TimeRange describes the span of available data. StartTimeUS <= EndTimeUS.
type TimeRange struct {
	StartTimeUS   int64 `json:"start_time_us"`
	EndTimeUS     int64 `json:"end_time_us"`
	ReadingCount  int64 `json:"reading_count"`
	DataSizeBytes int64 `json:"data_size_bytes"`
}

func (t TimeRange) DurationUS() int64 { return t.EndTimeUS - t.StartTimeUS }

func (t TimeRange) Contains(ts int64) bool {
	return ts >= t.StartTimeUS && ts <= t.EndTimeUS
}

// ComputeTimeRange derives the range covered by readings, or nil when empty.
func ComputeTimeRange(readings []*SensorReading) *TimeRange {
	if len(readings) == 0 {
		return nil
	}
	tr := &TimeRange{StartTimeUS: readings[0].TimestampUS, EndTimeUS: readings[0].TimestampUS}
	for _, r := range readings {
		if r.TimestampUS < tr.StartTimeUS {
			tr.StartTimeUS = r.TimestampUS
		}
		if r.TimestampUS > tr.EndTimeUS {
			tr.EndTimeUS = r.TimestampUS
		}
		tr.ReadingCount++
		tr.DataSizeBytes += r.Size()
	}
	return tr
}
