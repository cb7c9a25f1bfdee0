package pipeline

import (
	"context"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const (
	maxStoreAttempts = 3
	drainTimeout     = 5 * time.Second
)

// Store is the part of a backend the ingest pipeline writes to.
type Store interface {
	StoreBatch(ctx context.Context, b *domain.SensorBatch) error
}

// RunIngestPipeline moves live readings from col through q into store until
// ctx ends or the collector finishes. Readings that fail validation or the
// transformer are rejected one by one; the rest are stored in batches of at
// most pol.MaxBatchSize, flushed early every pol.FlushEvery. A nil tr stores
// readings unchanged.
func RunIngestPipeline(ctx context.Context, col ports.Collector, q ports.ReadingQueue, store Store, tr ports.Transformer, pol ports.Policy, obs ports.Observability) error {
	done, err := RunCollectStage(ctx, col, q, pol, obs)
	if err != nil {
		return err
	}
	defer func() {
		if err := col.Stop(); err != nil {
			obs.LogError("collector_stop_failed", err)
		}
	}()

	w := &batchWriter{store: store, tr: tr, pol: pol, obs: obs}
	if w.pol.MaxBatchSize <= 0 {
		w.pol.MaxBatchSize = 1000
	}
	idle := pol.IdleSleep
	if idle <= 0 {
		idle = defaultIdleSleep
	}

	for {
		select {
		case <-ctx.Done():
			<-done
			w.drain(ctx, q)
			return nil
		case <-done:
			if q.Len() == 0 {
				w.drain(ctx, q)
				return nil
			}
		default:
		}

		got := w.take(q)
		if w.due() {
			w.flush(ctx)
		}
		if got == 0 {
			sleepCtx(ctx, idle)
		}
	}
}

type batchWriter struct {
	store Store
	tr    ports.Transformer
	pol   ports.Policy
	obs   ports.Observability

	pending  []*domain.SensorReading
	since    time.Time
	attempts int
}

// take moves up to one batch worth of readings from q into pending.
func (w *batchWriter) take(q ports.ReadingQueue) int {
	room := w.pol.MaxBatchSize - len(w.pending)
	if room <= 0 {
		return 0
	}
	batch := q.DequeueBatch(room)
	w.obs.SetGauge(ports.MetricQueueLength, float64(q.Len()))
	for _, r := range batch {
		if r = w.accept(r); r == nil {
			continue
		}
		if len(w.pending) == 0 {
			w.since = time.Now()
		}
		w.pending = append(w.pending, r)
	}
	return len(batch)
}

func (w *batchWriter) accept(r *domain.SensorReading) *domain.SensorReading {
	if err := r.Validate(); err != nil {
		w.obs.RecordRejected(r, err)
		return nil
	}
	if w.tr == nil {
		return r
	}
	out, err := w.tr.Transform(r)
	if err != nil {
		w.obs.RecordRejected(r, err)
		return nil
	}
	return out
}

func (w *batchWriter) due() bool {
	if len(w.pending) == 0 {
		return false
	}
	if len(w.pending) >= w.pol.MaxBatchSize {
		return true
	}
	return w.pol.FlushEvery > 0 && time.Since(w.since) >= w.pol.FlushEvery
}

// flush stores pending. Retryable failures keep the batch for the next
// round, up to maxStoreAttempts.
func (w *batchWriter) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	n := len(w.pending)
	err := w.store.StoreBatch(ctx, domain.NewSensorBatch("ingest", w.pending))
	if err == nil {
		w.reset()
		return
	}

	w.attempts++
	if domain.IsRetryable(err) && w.attempts < maxStoreAttempts {
		w.obs.LogWarn("store_batch_retry",
			ports.Field{Key: "readings", Value: n},
			ports.Field{Key: "attempt", Value: w.attempts},
			ports.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	w.obs.LogError("store_batch_failed", err, ports.Field{Key: "readings", Value: n})
	w.obs.IncCounter(ports.MetricIngestDropped, float64(n))
	w.reset()
}

func (w *batchWriter) reset() {
	w.pending = nil
	w.attempts = 0
}

// drain stores everything still queued. ctx may already be cancelled, so
// the writes run on a detached context with a bounded deadline.
func (w *batchWriter) drain(ctx context.Context, q ports.ReadingQueue) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		got := w.take(q)
		if len(w.pending) == 0 && got == 0 {
			return
		}
		w.flush(dctx)
		if dctx.Err() != nil {
			w.obs.IncCounter(ports.MetricIngestDropped, float64(len(w.pending)+q.Len()))
			return
		}
	}
}
