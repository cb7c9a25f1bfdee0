package domain

import (
	"fmt"
	"time"
)

type DatasetSourceType string

const (
	SourceRecorded   DatasetSourceType = "recorded"
	SourceSimulation DatasetSourceType = "simulation"
	SourceSynthetic  DatasetSourceType = "synthetic"
	SourceLive       DatasetSourceType = "live"
	SourceCustom     DatasetSourceType = "custom"
)

type DatasetSource struct {
	SourceType DatasetSourceType `json:"source_type"`
	// Custom carries the free-form source name when SourceType is custom.
	Custom     string            `json:"custom,omitempty"`
	Path       string            `json:"path,omitempty"`
	ImportedAt time.Time         `json:"imported_at"`
	Checksum   string            `json:"checksum,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SensorInfo pairs a sensor's descriptor with its statistics.
type SensorInfo struct {
	Metadata   SensorMetadata   `json:"metadata"`
	Statistics SensorStatistics `json:"statistics"`
	IsSelected bool             `json:"is_selected"`
}

// SensorDataset is a named, versioned grouping of sensor readings.
type SensorDataset struct {
	DatasetID   string        `json:"dataset_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Version     string        `json:"version"`
	Sensors     []SensorInfo  `json:"sensors"`
	TimeRange   TimeRange     `json:"time_range"`
	Tags        []string      `json:"tags,omitempty"`
	Source      DatasetSource `json:"source"`
	CreatedAt   time.Time     `json:"created_at"`
	IsActive    bool          `json:"is_active"`
}

func (d *SensorDataset) HasSensor(id string) bool {
	for _, s := range d.Sensors {
		if s.Metadata.SensorID == id {
			return true
		}
	}
	return false
}

func (d *SensorDataset) SensorIDs() []string {
	out := make([]string, 0, len(d.Sensors))
	for _, s := range d.Sensors {
		out = append(out, s.Metadata.SensorID)
	}
	return out
}

type InterpolationMethod string

const (
	InterpolationLinear      InterpolationMethod = "linear"
	InterpolationNearest     InterpolationMethod = "nearest"
	InterpolationCubicSpline InterpolationMethod = "cubic_spline"
	InterpolationHold        InterpolationMethod = "hold"
)

type InterpolationSettings struct {
	Enabled  bool                `json:"enabled"`
	MaxGapUS int64               `json:"max_gap_us"`
	Method   InterpolationMethod `json:"method"`
}

func DefaultInterpolation() InterpolationSettings {
	return InterpolationSettings{
		Enabled:  true,
		MaxGapUS: 1_000_000,
		Method:   InterpolationLinear,
	}
}

// SensorSelection is the per-dataset playback configuration.
type SensorSelection struct {
	DatasetID       string                `json:"dataset_id"`
	SelectedSensors []string              `json:"selected_sensors"`
	TimeRange       *TimeRange            `json:"time_range,omitempty"`
	MinQuality      *float64              `json:"min_quality,omitempty"`
	PlaybackSpeed   float64               `json:"playback_speed"`
	LoopPlayback    bool                  `json:"loop_playback"`
	Interpolation   InterpolationSettings `json:"interpolation"`
}

// NewSensorSelection applies the playback defaults.
func NewSensorSelection(datasetID string, sensors []string) SensorSelection {
	return SensorSelection{
		DatasetID:       datasetID,
		SelectedSensors: append([]string(nil), sensors...),
		PlaybackSpeed:   1.0,
		LoopPlayback:    false,
		Interpolation:   DefaultInterpolation(),
	}
}

func (s SensorSelection) Validate() error {
	if s.PlaybackSpeed <= 0 {
		return fmt.Errorf("%w: playback_speed must be positive, got %v", ErrConfiguration, s.PlaybackSpeed)
	}
	if s.TimeRange != nil && s.TimeRange.StartTimeUS > s.TimeRange.EndTimeUS {
		return fmt.Errorf("%w: selection start after end", ErrTimeRange)
	}
	return nil
}

// ValidationResult is advisory; it never carries a hard error.
type ValidationResult struct {
	IsValid           bool     `json:"is_valid"`
	Warnings          []string `json:"warnings"`
	Errors            []string `json:"errors"`
	DataCoverage      float64  `json:"data_coverage"`
	CompatibleSensors []string `json:"compatible_sensors"`
	Recommendations   []string `json:"recommendations"`
}
