package bridge

import (
	"fmt"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

// SyncMode selects how the simulation clock moves on each advance.
type SyncMode string

const (
	SyncOriginalTimestamp SyncMode = "original_timestamp"
	SyncSimulationTime    SyncMode = "simulation_time"
	SyncFixedFrameRate    SyncMode = "fixed_frame_rate"
	// SyncRealTime advances by the wall time elapsed since the previous
	// advance, scaled by the playback speed.
	SyncRealTime SyncMode = "real_time"
)

func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(s); m {
	case SyncOriginalTimestamp, SyncSimulationTime, SyncFixedFrameRate, SyncRealTime:
		return m, nil
	case "":
		return SyncOriginalTimestamp, nil
	default:
		return "", fmt.Errorf("%w: unknown sync mode %q", domain.ErrConfiguration, s)
	}
}

type TimingConfig struct {
	PlaybackSpeed float64  `json:"playback_speed"`
	StartTimeUS   *int64   `json:"start_time_us,omitempty"`
	EndTimeUS     *int64   `json:"end_time_us,omitempty"`
	LoopReplay    bool     `json:"loop_replay"`
	SyncMode      SyncMode `json:"sync_mode"`
	TargetFPS     float64  `json:"target_fps"`
}

// BufferSettings bounds the per-sensor replay buffers. PrefetchSize is the
// prefetch window in seconds.
type BufferSettings struct {
	MaxBufferSize     int  `json:"max_buffer_size"`
	PrefetchSize      int  `json:"prefetch_size"`
	MaxMemoryMB       int  `json:"max_memory_mb"`
	EnableCompression bool `json:"enable_compression"`
}

type Config struct {
	DatasetID       string                 `json:"dataset_id"`
	SensorSelection domain.SensorSelection `json:"sensor_selection"`
	Timing          TimingConfig           `json:"timing"`
	Buffer          BufferSettings         `json:"buffer_settings"`
	RealTimeMode    bool                   `json:"real_time_mode"`
}

func DefaultConfig() Config {
	return Config{
		DatasetID:       "default",
		SensorSelection: domain.NewSensorSelection("default", nil),
		Timing: TimingConfig{
			PlaybackSpeed: 1.0,
			SyncMode:      SyncOriginalTimestamp,
			TargetFPS:     30,
		},
		Buffer: BufferSettings{
			MaxBufferSize: 1000,
			PrefetchSize:  100,
			MaxMemoryMB:   100,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.DatasetID == "" {
		c.DatasetID = c.SensorSelection.DatasetID
	}
	if c.DatasetID == "" {
		c.DatasetID = "default"
	}
	if c.Timing.PlaybackSpeed == 0 {
		c.Timing.PlaybackSpeed = 1.0
	}
	if c.Timing.TargetFPS == 0 {
		c.Timing.TargetFPS = 30
	}
	if c.Timing.SyncMode == "" {
		c.Timing.SyncMode = SyncOriginalTimestamp
	}
	if c.RealTimeMode {
		c.Timing.SyncMode = SyncRealTime
	}
	if c.Buffer.MaxBufferSize == 0 {
		c.Buffer.MaxBufferSize = 1000
	}
	if c.Buffer.PrefetchSize == 0 {
		c.Buffer.PrefetchSize = 100
	}
	if c.Buffer.MaxMemoryMB == 0 {
		c.Buffer.MaxMemoryMB = 100
	}
	if c.SensorSelection.Interpolation.MaxGapUS <= 0 {
		c.SensorSelection.Interpolation.MaxGapUS = domain.DefaultInterpolation().MaxGapUS
	}
}

func (c Config) validate() error {
	if c.Timing.PlaybackSpeed <= 0 {
		return fmt.Errorf("%w: playback_speed must be positive", domain.ErrConfiguration)
	}
	if c.Timing.TargetFPS <= 0 {
		return fmt.Errorf("%w: target_fps must be positive", domain.ErrConfiguration)
	}
	if c.Buffer.MaxBufferSize < 0 || c.Buffer.PrefetchSize < 0 || c.Buffer.MaxMemoryMB < 0 {
		return fmt.Errorf("%w: buffer settings must not be negative", domain.ErrConfiguration)
	}
	if c.Timing.StartTimeUS != nil && c.Timing.EndTimeUS != nil && *c.Timing.StartTimeUS > *c.Timing.EndTimeUS {
		return fmt.Errorf("%w: replay start after end", domain.ErrTimeRange)
	}
	if _, err := ParseSyncMode(string(c.Timing.SyncMode)); err != nil {
		return err
	}
	return nil
}

// FrameStepUS is the simulated time covered by one frame.
func (c Config) FrameStepUS() int64 {
	step := int64(1_000_000 / c.Timing.TargetFPS / c.Timing.PlaybackSpeed)
	if step < 1 {
		step = 1
	}
	return step
}

// DeltaTimeUS is the nominal frame period at normal speed.
func (c Config) DeltaTimeUS() int64 {
	return int64(1_000_000 / c.Timing.TargetFPS)
}
