package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/snapshot"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// Backup writes readings, metadata and config to a snapshot file.
func (b *Backend) Backup(ctx context.Context, destination string) error {
	if !b.features.BackupRestore {
		return ports.Unsupported(backendName, "backup")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return err
	}

	w, err := snapshot.Create(destination)
	if err != nil {
		return fmt.Errorf("%w: backup %s: %v", domain.ErrWrite, destination, err)
	}
	for _, r := range b.readings {
		if _, err := w.Append(snapshot.Record{Kind: snapshot.KindReading, Reading: r}); err != nil {
			_ = w.Close()
			return fmt.Errorf("%w: backup reading: %v", domain.ErrWrite, err)
		}
	}
	for _, m := range b.metadata {
		if _, err := w.Append(snapshot.Record{Kind: snapshot.KindMetadata, Metadata: m}); err != nil {
			_ = w.Close()
			return fmt.Errorf("%w: backup metadata: %v", domain.ErrWrite, err)
		}
	}
	for k, v := range b.config {
		if _, err := w.Append(snapshot.Record{Kind: snapshot.KindConfig, Key: k, Value: v}); err != nil {
			_ = w.Close()
			return fmt.Errorf("%w: backup config: %v", domain.ErrWrite, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: backup close: %v", domain.ErrWrite, err)
	}
	return nil
}

// Restore replaces the backend contents with a snapshot. An incomplete
// snapshot leaves the current contents untouched.
func (b *Backend) Restore(ctx context.Context, source string) error {
	if !b.features.BackupRestore {
		return ports.Unsupported(backendName, "restore")
	}

	var (
		readings []*domain.SensorReading
		metadata = make(map[string]*domain.SensorMetadata)
		config   = make(map[string]json.RawMessage)
	)
	st, err := snapshot.Read(source, func(_ uint64, rec snapshot.Record) error {
		switch rec.Kind {
		case snapshot.KindReading:
			if rec.Reading != nil {
				readings = append(readings, rec.Reading)
			}
		case snapshot.KindMetadata:
			if rec.Metadata != nil {
				metadata[rec.Metadata.SensorID] = rec.Metadata
			}
		case snapshot.KindConfig:
			config[rec.Key] = rec.Value
		default:
			return fmt.Errorf("%w: unknown snapshot record %q", domain.ErrSerialization, rec.Kind)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: restore %s: %v", domain.ErrRead, source, err)
	}
	if !st.Complete() {
		return fmt.Errorf("%w: restore %s: snapshot incomplete (%d of %d records)", domain.ErrRead, source, st.Records, st.Expected)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkConnectedLocked(); err != nil {
		return err
	}
	b.readings = readings
	b.metadata = metadata
	b.config = config
	return nil
}
