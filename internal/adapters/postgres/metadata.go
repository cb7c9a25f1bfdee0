package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

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
	_, err = b.db.ExecContext(ctx,
		"INSERT INTO sensor_metadata (sensor_id, doc) VALUES ($1, $2) ON CONFLICT (sensor_id) DO UPDATE SET doc = EXCLUDED.doc",
		m.SensorID, string(doc))
	if err != nil {
		return classify(domain.ErrWrite, "store metadata", err)
	}
	return nil
}

func (b *Backend) GetSensorMetadata(ctx context.Context, sensorID string) (*domain.SensorMetadata, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	var doc []byte
	err := b.db.QueryRowContext(ctx, "SELECT doc FROM sensor_metadata WHERE sensor_id = $1", sensorID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := b.db.QueryContext(ctx, "SELECT doc FROM sensor_metadata ORDER BY sensor_id")
	if err != nil {
		return nil, classify(domain.ErrRead, "list metadata", err)
	}
	defer rows.Close()

	var out []*domain.SensorMetadata
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, classify(domain.ErrRead, "list metadata", err)
		}
		m, err := decodeMetadata(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *Backend) UpdateSensorMetadata(ctx context.Context, m *domain.SensorMetadata) error {
	if m == nil {
		return fmt.Errorf("%w: nil sensor metadata", domain.ErrInvalidData)
	}
	if err := b.checkConnected(); err != nil {
		return err
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: sensor metadata: %v", domain.ErrSerialization, err)
	}
	res, err := b.db.ExecContext(ctx, "UPDATE sensor_metadata SET doc = $2 WHERE sensor_id = $1", m.SensorID, string(doc))
	if err != nil {
		return classify(domain.ErrWrite, "update metadata", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSensorNotFound, m.SensorID)
	}
	return nil
}

func (b *Backend) DeleteSensorMetadata(ctx context.Context, sensorID string) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM sensor_metadata WHERE sensor_id = $1", sensorID); err != nil {
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
	_, err := b.db.ExecContext(ctx,
		"INSERT INTO config_store (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		key, string(value))
	if err != nil {
		return classify(domain.ErrWrite, "store config", err)
	}
	return nil
}

func (b *Backend) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.QueryRowContext(ctx, "SELECT value FROM config_store WHERE key = $1", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(domain.ErrRead, "get config", err)
	}
	return json.RawMessage(value), nil
}

func (b *Backend) ListConfigKeys(ctx context.Context) ([]string, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, "SELECT key FROM config_store ORDER BY key")
	if err != nil {
		return nil, classify(domain.ErrRead, "list config", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, classify(domain.ErrRead, "list config", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *Backend) DeleteConfig(ctx context.Context, key string) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM config_store WHERE key = $1", key); err != nil {
		return classify(domain.ErrWrite, "delete config", err)
	}
	return nil
}
