package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/go-redis/redis/v8"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

func (b *Backend) StoreSensorMetadata(ctx context.Context, m *domain.SensorMetadata) error {
	if m == nil || m.SensorID == "" {
		return fmt.Errorf("%w: sensor metadata requires sensor_id", domain.ErrInvalidData)
	}
	if err := b.checkConnected(); err != nil {
		return err
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: sensor metadata: %v", domain.ErrSerialization, err)
	}
	if err := b.client.HSet(ctx, metadataKey, m.SensorID, doc).Err(); err != nil {
		return classify(domain.ErrWrite, "store metadata", err)
	}
	return nil
}

func (b *Backend) GetSensorMetadata(ctx context.Context, sensorID string) (*domain.SensorMetadata, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	doc, err := b.client.HGet(ctx, metadataKey, sensorID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(domain.ErrRead, "get metadata", err)
	}
	return decodeMetadata(doc)
}

func (b *Backend) ListSensorMetadata(ctx context.Context) ([]*domain.SensorMetadata, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	docs, err := b.client.HVals(ctx, metadataKey).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "list metadata", err)
	}
	out := make([]*domain.SensorMetadata, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeMetadata([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

func (b *Backend) UpdateSensorMetadata(ctx context.Context, m *domain.SensorMetadata) error {
	if m == nil {
		return fmt.Errorf("%w: nil sensor metadata", domain.ErrInvalidData)
	}
	if err := b.checkConnected(); err != nil {
		return err
	}
	exists, err := b.client.HExists(ctx, metadataKey, m.SensorID).Result()
	if err != nil {
		return classify(domain.ErrRead, "update metadata", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrSensorNotFound, m.SensorID)
	}
	return b.StoreSensorMetadata(ctx, m)
}

func (b *Backend) DeleteSensorMetadata(ctx context.Context, sensorID string) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := b.client.HDel(ctx, metadataKey, sensorID).Err(); err != nil {
		return classify(domain.ErrWrite, "delete metadata", err)
	}
	return nil
}

func decodeMetadata(doc []byte) (*domain.SensorMetadata, error) {
	var m domain.SensorMetadata
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("%w: sensor metadata: %v", domain.ErrSerialization, err)
	}
	return &m, nil
}

func (b *Backend) StoreConfig(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("%w: empty config key", domain.ErrInvalidData)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: config %s is not valid json", domain.ErrSerialization, key)
	}
	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := b.client.HSet(ctx, configKey, key, []byte(value)).Err(); err != nil {
		return classify(domain.ErrWrite, "store config", err)
	}
	return nil
}

func (b *Backend) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	v, err := b.client.HGet(ctx, configKey, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(domain.ErrRead, "get config", err)
	}
	return json.RawMessage(v), nil
}

func (b *Backend) ListConfigKeys(ctx context.Context) ([]string, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	keys, err := b.client.HKeys(ctx, configKey).Result()
	if err != nil {
		return nil, classify(domain.ErrRead, "list config", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) DeleteConfig(ctx context.Context, key string) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := b.client.HDel(ctx, configKey, key).Err(); err != nil {
		return classify(domain.ErrWrite, "delete config", err)
	}
	return nil
}
