package domain

import "time"

// SensorFrame is one replay tick: the nearest reading per sensor at TimestampUS.
type SensorFrame struct {
	TimestampUS    int64                     `json:"timestamp_us"`
	Readings       map[string]*SensorReading `json:"readings"`
	FrameNumber    uint64                    `json:"frame_number"`
	IsInterpolated bool                      `json:"is_interpolated"`
}

type BufferStats struct {
	TotalBufferedReadings int     `json:"total_buffered_readings"`
	MemoryUsageMB         float64 `json:"memory_usage_mb"`
	BufferUtilization     float64 `json:"buffer_utilization"`
	CacheHits             uint64  `json:"cache_hits"`
	CacheMisses           uint64  `json:"cache_misses"`
}

type BridgeStatus struct {
	IsActive        bool        `json:"is_active"`
	CurrentTimeUS   int64       `json:"current_time_us"`
	TotalDurationUS int64       `json:"total_duration_us"`
	Progress        float64     `json:"progress"`
	PlaybackSpeed   float64     `json:"playback_speed"`
	ActiveSensors   []string    `json:"active_sensors"`
	BufferStats     BufferStats `json:"buffer_stats"`
	LastUpdate      time.Time   `json:"last_update"`
}

type SimulationTimeInfo struct {
	CurrentTimeUS int64     `json:"current_time_us"`
	StartTimeUS   int64     `json:"start_time_us"`
	DeltaTimeUS   int64     `json:"delta_time_us"`
	FrameNumber   uint64    `json:"frame_number"`
	RealTime      time.Time `json:"real_time"`
}

// SensorInterface is the snapshot handed to simulation consumers.
type SensorInterface struct {
	AvailableSensors []string           `json:"available_sensors"`
	CurrentFrame     *SensorFrame       `json:"current_frame,omitempty"`
	SimulationTime   SimulationTimeInfo `json:"simulation_time"`
}
