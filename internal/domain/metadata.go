package domain

import (
	"sort"
	"time"
)

// SensorMetadata describes a sensor independently of its readings.
type SensorMetadata struct {
	SensorID       string         `json:"sensor_id"`
	Name           string         `json:"name"`
	SensorType     SensorDataType `json:"sensor_type"`
	Location       string         `json:"location,omitempty"`
	SamplingRateHz *float64       `json:"sampling_rate_hz,omitempty"`
	Calibration    map[string]any `json:"calibration,omitempty"`
	FirstSeen      time.Time      `json:"first_seen"`
	LastSeen       time.Time      `json:"last_seen"`
	IsActive       bool           `json:"is_active"`
}

// SensorStatistics is derived from stored readings.
type SensorStatistics struct {
	SensorID          string    `json:"sensor_id"`
	TimeRange         TimeRange `json:"time_range"`
	AvgQuality        float64   `json:"avg_quality"`
	AvgSamplingRateHz float64   `json:"avg_sampling_rate_hz"`
	GapCount          int       `json:"gap_count"`
	TotalSizeBytes    int64     `json:"total_size_bytes"`
}

// DatabaseHealth is reported by every backend, including when degraded.
type DatabaseHealth struct {
	IsConnected         bool      `json:"is_connected"`
	LatencyMS           float64   `json:"latency_ms"`
	Version             string    `json:"version,omitempty"`
	ActiveConnections   *int      `json:"active_connections,omitempty"`
	AvailableSpaceBytes *uint64   `json:"available_space_bytes,omitempty"`
	LastCheck           time.Time `json:"last_check"`
	Error               string    `json:"error,omitempty"`
}

// DegradedHealth reports a failed probe.
func DegradedHealth(err error, latency time.Duration) DatabaseHealth {
	h := DatabaseHealth{
		IsConnected: false,
		LatencyMS:   float64(latency.Microseconds()) / 1000,
		LastCheck:   time.Now().UTC(),
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

// TimeFromMicros converts epoch microseconds to UTC time.
func TimeFromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// ComputeStatistics summarises readings of one sensor. Consecutive readings
// further apart than gapUS count as a gap. readings must not be empty.
func ComputeStatistics(sensorID string, readings []*SensorReading, gapUS int64) SensorStatistics {
	tr := ComputeTimeRange(readings)
	var qualitySum float64
	for _, r := range readings {
		qualitySum += r.Quality
	}

	stats := SensorStatistics{
		SensorID:       sensorID,
		TimeRange:      *tr,
		AvgQuality:     qualitySum / float64(len(readings)),
		TotalSizeBytes: tr.DataSizeBytes,
	}
	if d := tr.DurationUS(); d > 0 {
		stats.AvgSamplingRateHz = float64(len(readings)) / (float64(d) / 1e6)
	}

	ts := make([]int64, len(readings))
	for i, r := range readings {
		ts[i] = r.TimestampUS
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	for i := 1; i < len(ts); i++ {
		if ts[i]-ts[i-1] > gapUS {
			stats.GapCount++
		}
	}
	return stats
}
