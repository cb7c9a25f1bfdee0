package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

type txProvider struct {
	b *Backend
}

func (p txProvider) Begin(ctx context.Context) (ports.Transaction, error) {
	if err := p.b.checkConnected(); err != nil {
		return nil, err
	}
	tx, err := p.b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(domain.ErrTransaction, "begin", err)
	}
	return &pgTx{tx: tx, features: p.b.features}, nil
}

// pgTx wraps a *sql.Tx. After Commit or Rollback every call fails.
type pgTx struct {
	mu       sync.Mutex
	tx       *sql.Tx
	done     bool
	features ports.DatabaseFeatures
}

func (t *pgTx) StoreReading(ctx context.Context, r *domain.SensorReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrTransaction)
	}
	return insertReadings(ctx, t.tx, []*domain.SensorReading{r})
}

func (t *pgTx) StoreBatch(ctx context.Context, batch *domain.SensorBatch) error {
	if batch == nil || len(batch.Readings) == 0 {
		return nil
	}
	if err := t.features.CheckBatch(len(batch.Readings)); err != nil {
		return err
	}
	for _, r := range batch.Readings {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrTransaction)
	}
	return insertReadings(ctx, t.tx, batch.Readings)
}

func (t *pgTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrTransaction)
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return classify(domain.ErrTransaction, "commit", err)
	}
	return nil
}

func (t *pgTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return classify(domain.ErrTransaction, "rollback", err)
	}
	return nil
}
