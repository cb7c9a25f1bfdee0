package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const (
	highPlaybackSpeed = 10.0
	lowCoverage       = 0.5
)

// SensorSelector keeps one playback selection per dataset.
type SensorSelector struct {
	datasets *DatasetManager

	mu         sync.RWMutex
	selections map[string]domain.SensorSelection
}

func NewSensorSelector(datasets *DatasetManager) *SensorSelector {
	return &SensorSelector{
		datasets:   datasets,
		selections: make(map[string]domain.SensorSelection),
	}
}

func (s *SensorSelector) Datasets() *DatasetManager { return s.datasets }

// ListSensors returns the dataset's sensors, flagged when the stored
// selection names them.
func (s *SensorSelector) ListSensors(ctx context.Context, datasetID string) ([]domain.SensorInfo, error) {
	ds, err := s.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	sel, ok := s.stored(datasetID)
	if ok {
		chosen := make(map[string]bool, len(sel.SelectedSensors))
		for _, id := range sel.SelectedSensors {
			chosen[id] = true
		}
		for i := range ds.Sensors {
			ds.Sensors[i].IsSelected = chosen[ds.Sensors[i].Metadata.SensorID]
		}
	}
	return ds.Sensors, nil
}

func (s *SensorSelector) GetSensorInfo(ctx context.Context, datasetID, sensorID string) (*domain.SensorInfo, error) {
	sensors, err := s.ListSensors(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	for i := range sensors {
		if sensors[i].Metadata.SensorID == sensorID {
			return &sensors[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s in dataset %s", domain.ErrSensorNotFound, sensorID, datasetID)
}

// SelectSensors replaces the dataset's selection with sensorIDs and the
// default playback settings.
func (s *SensorSelector) SelectSensors(ctx context.Context, datasetID string, sensorIDs []string) error {
	sel := domain.NewSensorSelection(datasetID, sensorIDs)
	s.mu.Lock()
	s.selections[datasetID] = sel
	s.mu.Unlock()
	s.datasets.obs.LogInfo("sensors_selected",
		ports.Field{Key: "dataset_id", Value: datasetID},
		ports.Field{Key: "count", Value: len(sensorIDs)},
	)
	return nil
}

// GetSelection returns the stored selection or, when none exists, one that
// covers every sensor of the dataset. The synthesised selection is not
// stored.
func (s *SensorSelector) GetSelection(ctx context.Context, datasetID string) (domain.SensorSelection, error) {
	if sel, ok := s.stored(datasetID); ok {
		return sel, nil
	}
	ds, err := s.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return domain.SensorSelection{}, err
	}
	return domain.NewSensorSelection(datasetID, ds.SensorIDs()), nil
}

// DatasetTimeRange is the span of data the dataset currently covers.
func (s *SensorSelector) DatasetTimeRange(ctx context.Context, datasetID string) (*domain.TimeRange, error) {
	ds, err := s.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	tr := ds.TimeRange
	return &tr, nil
}

func (s *SensorSelector) UpdateSelection(ctx context.Context, sel domain.SensorSelection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	sel.SelectedSensors = append([]string(nil), sel.SelectedSensors...)
	s.mu.Lock()
	s.selections[sel.DatasetID] = sel
	s.mu.Unlock()
	return nil
}

func (s *SensorSelector) stored(datasetID string) (domain.SensorSelection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selections[datasetID]
	if ok {
		sel.SelectedSensors = append([]string(nil), sel.SelectedSensors...)
	}
	return sel, ok
}

// QuerySelectedData runs q narrowed by the dataset's selection and by the
// dataset's own sensors and window. Neither ever widens q.
func (s *SensorSelector) QuerySelectedData(ctx context.Context, datasetID string, q domain.SensorQuery) ([]*domain.SensorReading, error) {
	sel, err := s.GetSelection(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	ids, window, err := s.datasets.scope(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	merged, ok := Narrow(q, sel)
	if ok {
		merged, ok = restrict(merged, ids, window)
	}
	if !ok {
		return []*domain.SensorReading{}, nil
	}
	return s.datasets.db.QueryReadings(ctx, merged)
}

// restrict keeps q inside a dataset's sensors and window. It reports false
// when nothing of the dataset is left.
func restrict(q domain.SensorQuery, ids []string, window *domain.TimeRange) (domain.SensorQuery, bool) {
	if len(ids) > 0 {
		if len(q.SensorIDs) == 0 {
			q.SensorIDs = append([]string(nil), ids...)
		} else {
			in := make(map[string]bool, len(ids))
			for _, id := range ids {
				in[id] = true
			}
			kept := make([]string, 0, len(q.SensorIDs))
			for _, id := range q.SensorIDs {
				if in[id] {
					kept = append(kept, id)
				}
			}
			if len(kept) == 0 {
				return q, false
			}
			q.SensorIDs = kept
		}
	}
	if window != nil {
		q.StartTimeUS = max(q.StartTimeUS, window.StartTimeUS)
		q.EndTimeUS = min(q.EndTimeUS, window.EndTimeUS)
	}
	return q, q.StartTimeUS <= q.EndTimeUS
}

// Narrow merges sel into q. It reports false when the intersected time range
// is empty.
func Narrow(q domain.SensorQuery, sel domain.SensorSelection) (domain.SensorQuery, bool) {
	if len(sel.SelectedSensors) > 0 {
		q.SensorIDs = append([]string(nil), sel.SelectedSensors...)
	}
	if sel.MinQuality != nil && (q.MinQuality == nil || *sel.MinQuality > *q.MinQuality) {
		v := *sel.MinQuality
		q.MinQuality = &v
	}
	if sel.TimeRange != nil {
		q.StartTimeUS = max(q.StartTimeUS, sel.TimeRange.StartTimeUS)
		q.EndTimeUS = min(q.EndTimeUS, sel.TimeRange.EndTimeUS)
	}
	return q, q.StartTimeUS <= q.EndTimeUS
}

// ValidateSelection is advisory: problems land in the result, and an error
// is returned only when the backend fails.
func (s *SensorSelector) ValidateSelection(ctx context.Context, sel domain.SensorSelection) (domain.ValidationResult, error) {
	res := domain.ValidationResult{
		Warnings:          []string{},
		Errors:            []string{},
		CompatibleSensors: []string{},
		Recommendations:   []string{},
	}

	ds, err := s.datasets.GetDataset(ctx, sel.DatasetID)
	if errors.Is(err, domain.ErrDatasetNotFound) {
		res.Errors = append(res.Errors, "Dataset not found: "+sel.DatasetID)
		return res, nil
	}
	if err != nil {
		return res, err
	}

	for _, id := range sel.SelectedSensors {
		if ds.HasSensor(id) {
			res.CompatibleSensors = append(res.CompatibleSensors, id)
		} else {
			res.Warnings = append(res.Warnings, "Sensor not found in dataset: "+id)
		}
	}

	if total := len(ds.Sensors); total > 0 {
		res.DataCoverage = float64(len(res.CompatibleSensors)) / float64(total)
	}
	if len(res.CompatibleSensors) == 0 {
		res.Recommendations = append(res.Recommendations, "Select at least one sensor for simulation")
	}
	if sel.PlaybackSpeed > highPlaybackSpeed {
		res.Warnings = append(res.Warnings, "High playback speed may cause timing issues")
	}
	if res.DataCoverage < lowCoverage {
		res.Recommendations = append(res.Recommendations, "Consider selecting more sensors for better simulation coverage")
	}

	res.IsValid = len(res.Errors) == 0 && len(res.CompatibleSensors) > 0
	return res, nil
}
