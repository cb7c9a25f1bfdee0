package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/export"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/observability"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const (
	// DefaultID names the dataset synthesised from everything in the backend.
	DefaultID = "default"

	configPrefix = "dataset:"
)

// record is the persisted form of a dataset. Sensors and time range are
// resolved from the backend on every read.
type record struct {
	DatasetID   string               `json:"dataset_id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Version     string               `json:"version"`
	Tags        []string             `json:"tags,omitempty"`
	Source      domain.DatasetSource `json:"source"`
	CreatedAt   time.Time            `json:"created_at"`
	// SensorIDs restricts the dataset; empty means every sensor.
	SensorIDs []string `json:"sensor_ids,omitempty"`
	// Window restricts the dataset in time; nil means all data.
	Window *domain.TimeRange `json:"window,omitempty"`
}

// DatasetManager presents backend readings as named datasets.
type DatasetManager struct {
	db        ports.Database
	exporters *export.Registry
	obs       ports.Observability

	mu     sync.RWMutex
	active string
}

type Option func(*DatasetManager)

func WithExporters(r *export.Registry) Option {
	return func(m *DatasetManager) { m.exporters = r }
}

func WithObservability(obs ports.Observability) Option {
	return func(m *DatasetManager) { m.obs = obs }
}

func NewDatasetManager(db ports.Database, opts ...Option) *DatasetManager {
	m := &DatasetManager{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.exporters == nil {
		m.exporters = export.NewRegistry()
	}
	if m.obs == nil {
		m.obs = observability.NewNop()
	}
	return m
}

// ListDatasets returns the default dataset, when the backend holds data,
// followed by the persisted datasets ordered by creation time.
func (m *DatasetManager) ListDatasets(ctx context.Context) ([]*domain.SensorDataset, error) {
	var out []*domain.SensorDataset

	def, err := m.defaultDataset(ctx)
	if err != nil {
		return nil, err
	}
	if def != nil {
		out = append(out, def)
	}

	recs, err := m.records(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		ds, err := m.resolve(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// GetDataset fails with domain.ErrDatasetNotFound for unknown ids.
func (m *DatasetManager) GetDataset(ctx context.Context, id string) (*domain.SensorDataset, error) {
	if id == DefaultID {
		ds, err := m.defaultDataset(ctx)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrDatasetNotFound, id)
		}
		return ds, nil
	}
	rec, err := m.record(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, rec)
}

// CreateDataset persists ds and returns its id, generating one when empty.
// Sensor ids listed in ds.Sensors restrict the dataset; a non-empty
// ds.TimeRange restricts it in time.
func (m *DatasetManager) CreateDataset(ctx context.Context, ds *domain.SensorDataset) (string, error) {
	if ds == nil {
		return "", fmt.Errorf("%w: nil dataset", domain.ErrInvalidData)
	}
	if ds.DatasetID == DefaultID {
		return "", fmt.Errorf("%w: dataset id %q is reserved", domain.ErrConfiguration, DefaultID)
	}
	if ds.TimeRange.StartTimeUS > ds.TimeRange.EndTimeUS {
		return "", fmt.Errorf("%w: dataset start after end", domain.ErrTimeRange)
	}

	rec := record{
		DatasetID:   ds.DatasetID,
		Name:        ds.Name,
		Description: ds.Description,
		Version:     ds.Version,
		Tags:        append([]string(nil), ds.Tags...),
		Source:      ds.Source,
		CreatedAt:   ds.CreatedAt,
		SensorIDs:   ds.SensorIDs(),
	}
	if rec.DatasetID == "" {
		rec.DatasetID = uuid.NewString()
	}
	if rec.Name == "" {
		rec.Name = rec.DatasetID
	}
	if rec.Version == "" {
		rec.Version = "1.0.0"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Source.SourceType == "" {
		rec.Source.SourceType = domain.SourceCustom
	}
	if rec.Source.ImportedAt.IsZero() {
		rec.Source.ImportedAt = rec.CreatedAt
	}
	if ds.TimeRange != (domain.TimeRange{}) {
		w := domain.TimeRange{StartTimeUS: ds.TimeRange.StartTimeUS, EndTimeUS: ds.TimeRange.EndTimeUS}
		rec.Window = &w
	}

	if err := m.saveRecord(ctx, rec); err != nil {
		return "", err
	}
	m.obs.LogInfo("dataset_created",
		ports.Field{Key: "dataset_id", Value: rec.DatasetID},
		ports.Field{Key: "name", Value: rec.Name},
	)
	return rec.DatasetID, nil
}

// DeleteDataset removes a persisted dataset. Its readings stay in the
// backend. The default dataset cannot be deleted.
func (m *DatasetManager) DeleteDataset(ctx context.Context, id string) error {
	if id == DefaultID {
		return fmt.Errorf("%w: the default dataset cannot be deleted", domain.ErrUnsupportedOperation)
	}
	if _, err := m.record(ctx, id); err != nil {
		return err
	}
	if err := m.db.DeleteConfig(ctx, configPrefix+id); err != nil {
		return err
	}

	m.mu.Lock()
	if m.active == id {
		m.active = ""
	}
	m.mu.Unlock()

	m.obs.LogInfo("dataset_deleted", ports.Field{Key: "dataset_id", Value: id})
	return nil
}

// ImportData stores batch in chunks the backend accepts. Importing into a
// persisted dataset that lists its sensors adds the batch's sensors to it.
func (m *DatasetManager) ImportData(ctx context.Context, datasetID string, batch *domain.SensorBatch) error {
	if batch == nil || len(batch.Readings) == 0 {
		return nil
	}

	var rec *record
	if datasetID != "" && datasetID != DefaultID {
		r, err := m.record(ctx, datasetID)
		if err != nil {
			return err
		}
		rec = r
	}

	size := m.db.SupportedFeatures().MaxBatchSize
	if size <= 0 {
		size = ports.BasicFeatures().MaxBatchSize
	}
	for start := 0; start < len(batch.Readings); start += size {
		end := start + size
		if end > len(batch.Readings) {
			end = len(batch.Readings)
		}
		chunk := batch
		if start > 0 || end < len(batch.Readings) {
			chunk = domain.NewSensorBatch(batch.Source, batch.Readings[start:end])
		}
		if err := m.db.StoreBatch(ctx, chunk); err != nil {
			return fmt.Errorf("import into %s at reading %d: %w", datasetID, start, err)
		}
	}

	if rec != nil && len(rec.SensorIDs) > 0 {
		if extendSensors(rec, batch.Readings) {
			if err := m.saveRecord(ctx, *rec); err != nil {
				return err
			}
		}
	}

	m.obs.LogInfo("dataset_imported",
		ports.Field{Key: "dataset_id", Value: datasetID},
		ports.Field{Key: "readings", Value: len(batch.Readings)},
	)
	return nil
}

// ExportDataset writes every reading of the dataset in the given format.
func (m *DatasetManager) ExportDataset(ctx context.Context, id, format string, w io.Writer) error {
	exp, err := m.exporters.Get(format)
	if err != nil {
		return err
	}
	ds, err := m.GetDataset(ctx, id)
	if err != nil {
		return err
	}

	var readings []*domain.SensorReading
	if ids := ds.SensorIDs(); len(ids) > 0 {
		q := domain.TimeRangeQuery(ds.TimeRange.StartTimeUS, ds.TimeRange.EndTimeUS).WithSensors(ids...)
		readings, err = m.db.QueryReadings(ctx, q)
		if err != nil {
			return err
		}
	}
	return exp.Export(ctx, w, ds, readings)
}

// ExportFormats lists the formats ExportDataset accepts.
func (m *DatasetManager) ExportFormats() []string { return m.exporters.Formats() }

// SetActiveDataset fails with an error matching domain.ErrSensorNotFound when
// the dataset does not exist.
func (m *DatasetManager) SetActiveDataset(ctx context.Context, id string) error {
	if _, err := m.GetDataset(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	m.active = id
	m.mu.Unlock()
	m.obs.LogInfo("dataset_activated", ports.Field{Key: "dataset_id", Value: id})
	return nil
}

// GetActiveDataset returns nil when no dataset is active or the active one
// has disappeared.
func (m *DatasetManager) GetActiveDataset(ctx context.Context) (*domain.SensorDataset, error) {
	id := m.activeID()
	if id == "" {
		return nil, nil
	}
	ds, err := m.GetDataset(ctx, id)
	if errors.Is(err, domain.ErrDatasetNotFound) {
		return nil, nil
	}
	return ds, err
}

// scope returns the sensors and window a dataset is restricted to. Both are
// empty for the default dataset and for persisted datasets without limits.
func (m *DatasetManager) scope(ctx context.Context, id string) ([]string, *domain.TimeRange, error) {
	if id == DefaultID {
		return nil, nil, nil
	}
	rec, err := m.record(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec.SensorIDs, rec.Window, nil
}

func (m *DatasetManager) activeID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *DatasetManager) defaultDataset(ctx context.Context) (*domain.SensorDataset, error) {
	sensors, err := m.db.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	if len(sensors) == 0 {
		return nil, nil
	}
	tr, err := m.db.GetGlobalTimeRange(ctx)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, nil
	}

	infos, err := m.sensorInfos(ctx, sensors, nil)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &domain.SensorDataset{
		DatasetID:   DefaultID,
		Name:        "Default Dataset",
		Description: "All available sensor data",
		Version:     "1.0.0",
		Sensors:     infos,
		TimeRange:   *tr,
		Tags:        []string{"default"},
		Source: domain.DatasetSource{
			SourceType: domain.SourceCustom,
			Custom:     "database",
			ImportedAt: now,
		},
		CreatedAt: now,
		IsActive:  m.activeID() == DefaultID,
	}, nil
}

func (m *DatasetManager) resolve(ctx context.Context, rec *record) (*domain.SensorDataset, error) {
	ids := rec.SensorIDs
	if len(ids) == 0 {
		all, err := m.db.ListSensors(ctx)
		if err != nil {
			return nil, err
		}
		ids = all
	}

	infos, err := m.sensorInfos(ctx, ids, rec.Window)
	if err != nil {
		return nil, err
	}

	var tr domain.TimeRange
	for i, info := range infos {
		st := info.Statistics.TimeRange
		if i == 0 {
			tr = st
			continue
		}
		tr.StartTimeUS = min(tr.StartTimeUS, st.StartTimeUS)
		tr.EndTimeUS = max(tr.EndTimeUS, st.EndTimeUS)
		tr.ReadingCount += st.ReadingCount
		tr.DataSizeBytes += st.DataSizeBytes
	}
	if rec.Window != nil {
		if len(infos) == 0 {
			tr = *rec.Window
		} else {
			tr.StartTimeUS = max(tr.StartTimeUS, rec.Window.StartTimeUS)
			tr.EndTimeUS = min(tr.EndTimeUS, rec.Window.EndTimeUS)
			if tr.StartTimeUS > tr.EndTimeUS {
				tr.EndTimeUS = tr.StartTimeUS
			}
		}
	}

	return &domain.SensorDataset{
		DatasetID:   rec.DatasetID,
		Name:        rec.Name,
		Description: rec.Description,
		Version:     rec.Version,
		Sensors:     infos,
		TimeRange:   tr,
		Tags:        append([]string(nil), rec.Tags...),
		Source:      rec.Source,
		CreatedAt:   rec.CreatedAt,
		IsActive:    m.activeID() == rec.DatasetID,
	}, nil
}

// sensorInfos collects metadata and statistics for the sensors that hold
// data. Sensors without stored metadata get a descriptor derived from their
// first reading.
func (m *DatasetManager) sensorInfos(ctx context.Context, ids []string, window *domain.TimeRange) ([]domain.SensorInfo, error) {
	infos := make([]domain.SensorInfo, 0, len(ids))
	for _, id := range ids {
		stats, err := m.db.GetSensorStatistics(ctx, id)
		if errors.Is(err, domain.ErrSensorNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if window != nil && (stats.TimeRange.EndTimeUS < window.StartTimeUS || stats.TimeRange.StartTimeUS > window.EndTimeUS) {
			continue
		}

		md, err := m.db.GetSensorMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if md == nil {
			md, err = m.synthesizeMetadata(ctx, id, stats.TimeRange)
			if err != nil {
				return nil, err
			}
		}
		infos = append(infos, domain.SensorInfo{Metadata: *md, Statistics: *stats})
	}
	return infos, nil
}

func (m *DatasetManager) synthesizeMetadata(ctx context.Context, id string, tr domain.TimeRange) (*domain.SensorMetadata, error) {
	first, err := m.db.QueryReadings(ctx, domain.TimeRangeQuery(tr.StartTimeUS, tr.EndTimeUS).WithSensors(id).WithLimit(1))
	if err != nil {
		return nil, err
	}
	md := &domain.SensorMetadata{
		SensorID:  id,
		Name:      id,
		FirstSeen: domain.TimeFromMicros(tr.StartTimeUS),
		LastSeen:  domain.TimeFromMicros(tr.EndTimeUS),
		IsActive:  true,
	}
	if len(first) > 0 {
		md.SensorType = first[0].DataType
	} else {
		md.SensorType = domain.GenericData("unknown", 0)
	}
	return md, nil
}

func (m *DatasetManager) record(ctx context.Context, id string) (*record, error) {
	raw, err := m.db.GetConfig(ctx, configPrefix+id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrDatasetNotFound, id)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %v", domain.ErrSerialization, id, err)
	}
	return &rec, nil
}

func (m *DatasetManager) records(ctx context.Context) ([]*record, error) {
	keys, err := m.db.ListConfigKeys(ctx)
	if err != nil {
		return nil, err
	}
	var out []*record
	for _, k := range keys {
		id, ok := strings.CutPrefix(k, configPrefix)
		if !ok {
			continue
		}
		rec, err := m.record(ctx, id)
		if errors.Is(err, domain.ErrDatasetNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].DatasetID < out[j].DatasetID
	})
	return out, nil
}

func (m *DatasetManager) saveRecord(ctx context.Context, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: dataset %s: %v", domain.ErrSerialization, rec.DatasetID, err)
	}
	return m.db.StoreConfig(ctx, configPrefix+rec.DatasetID, raw)
}

// extendSensors appends sensors of readings missing from rec and reports
// whether rec changed.
func extendSensors(rec *record, readings []*domain.SensorReading) bool {
	known := make(map[string]bool, len(rec.SensorIDs))
	for _, id := range rec.SensorIDs {
		known[id] = true
	}
	changed := false
	for _, r := range readings {
		if !known[r.SensorID] {
			known[r.SensorID] = true
			rec.SensorIDs = append(rec.SensorIDs, r.SensorID)
			changed = true
		}
	}
	return changed
}
