package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

func (b *Backend) StoreSensorMetadata(ctx context.Context, m *domain.SensorMetadata) error {
	if m == nil || m.SensorID == "" {
		return fmt.Errorf("%w: sensor metadata requires sensor_id", domain.ErrInvalidData)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkConnectedLocked(); err != nil {
		return err
	}
	cp := *m
	b.metadata[m.SensorID] = &cp
	return nil
}

// GetSensorMetadata returns nil when the sensor has no metadata.
func (b *Backend) GetSensorMetadata(ctx context.Context, sensorID string) (*domain.SensorMetadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}
	m, ok := b.metadata[sensorID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (b *Backend) ListSensorMetadata(ctx context.Context) ([]*domain.SensorMetadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}
	out := make([]*domain.SensorMetadata, 0, len(b.metadata))
	for _, m := range b.metadata {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

func (b *Backend) UpdateSensorMetadata(ctx context.Context, m *domain.SensorMetadata) error {
	if m == nil {
		return fmt.Errorf("%w: nil sensor metadata", domain.ErrInvalidData)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkConnectedLocked(); err != nil {
		return err
	}
	if _, ok := b.metadata[m.SensorID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrSensorNotFound, m.SensorID)
	}
	cp := *m
	b.metadata[m.SensorID] = &cp
	return nil
}

func (b *Backend) DeleteSensorMetadata(ctx context.Context, sensorID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkConnectedLocked(); err != nil {
		return err
	}
	delete(b.metadata, sensorID)
	return nil
}

func (b *Backend) StoreConfig(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("%w: config key is required", domain.ErrInvalidData)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: config %q is not valid JSON", domain.ErrSerialization, key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkConnectedLocked(); err != nil {
		return err
	}
	b.config[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (b *Backend) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}
	v, ok := b.config[key]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), v...), nil
}

func (b *Backend) ListConfigKeys(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(b.config))
	for k := range b.config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) DeleteConfig(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkConnectedLocked(); err != nil {
		return err
	}
	delete(b.config, key)
	return nil
}
