package sensorreplay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/buffer"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/observability"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/pipeline"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

// ErrQueueFull indicates the ingest queue rejected the reading according to policy.
var ErrQueueFull = errors.New("sensorreplay: queue full")

// ErrIngesterClosed is returned by Publish after Close.
var ErrIngesterClosed = errors.New("sensorreplay: ingester closed")

// ReadingStore is the part of a backend the ingester writes to. Database
// and Runtime.Database() both satisfy it.
type ReadingStore interface {
	StoreBatch(ctx context.Context, b *SensorBatch) error
}

// IngesterConfig configures the queue in front of the store.
type IngesterConfig struct {
	Policy        Policy
	Transformer   Transformer
	Observability Observability
}

// applyDefaults fills in sane thresholds so callers only override what they need.
func (c *IngesterConfig) applyDefaults() {
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 1_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.FlushEvery == 0 {
		c.Policy.FlushEvery = time.Second
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Observability == nil {
		c.Observability = observability.NewNop()
	}
}

func (c *IngesterConfig) validate() error {
	if c.Policy.MaxQueueLen <= 0 {
		return fmt.Errorf("%w: policy.max_queue_len must be > 0", ErrConfiguration)
	}
	if c.Policy.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: policy.max_batch_size must be > 0", ErrConfiguration)
	}
	switch c.Policy.OnQueueFull {
	case "block", "drop":
	default:
		return fmt.Errorf("%w: policy.on_queue_full must be block or drop", ErrConfiguration)
	}
	return nil
}

// Ingester exposes the queue → batch → store pipeline to external producers.
type Ingester struct {
	policy Policy
	col    *pushCollector

	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	closed   atomic.Bool
	stopOnce sync.Once
}

// NewIngester starts a background pipeline that stores published readings
// in store, reusing the live ingest backpressure policy.
func NewIngester(cfg *IngesterConfig, store ReadingStore) (*Ingester, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrConfiguration)
	}
	c := *cfg
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	in := &Ingester{
		policy: c.Policy,
		col:    &pushCollector{ready: make(chan struct{})},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	q := buffer.NewQueue(c.Policy.MaxQueueLen)
	go func() {
		defer close(in.done)
		in.err = pipeline.RunIngestPipeline(ctx, in.col, q, store, c.Transformer, c.Policy, c.Observability)
	}()
	return in, nil
}

// Publish hands r to the pipeline. With the "block" policy it waits for room
// until ctx ends; with "drop" a full queue yields ErrQueueFull.
func (in *Ingester) Publish(ctx context.Context, r *SensorReading) error {
	if in.closed.Load() {
		return ErrIngesterClosed
	}
	if err := r.Validate(); err != nil {
		return err
	}
	out, err := in.col.wait(ctx, in.done)
	if err != nil {
		return err
	}

	if in.policy.OnQueueFull == "drop" {
		select {
		case out <- r:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case out <- r:
		return nil
	case <-in.done:
		return ErrIngesterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting readings, flushes what is queued and waits for the
// pipeline to exit, respecting the provided context.
func (in *Ingester) Close(ctx context.Context) error {
	in.stopOnce.Do(func() {
		in.closed.Store(true)
		in.cancel()
	})

	select {
	case <-in.done:
		return in.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pushCollector is a Collector fed by Ingester.Publish.
type pushCollector struct {
	ready chan struct{}
	out   chan<- *domain.SensorReading
}

func (p *pushCollector) Start(_ context.Context, out chan<- *domain.SensorReading) error {
	p.out = out
	close(p.ready)
	return nil
}

func (p *pushCollector) Stop() error { return nil }

func (p *pushCollector) wait(ctx context.Context, done <-chan struct{}) (chan<- *domain.SensorReading, error) {
	select {
	case <-p.ready:
		return p.out, nil
	case <-done:
		return nil, ErrIngesterClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
