package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const defaultIdleSleep = 5 * time.Millisecond

// RunCollectStage starts col and moves its readings into q until ctx ends or
// the collector closes its channel. The returned channel closes once the
// stage has drained.
func RunCollectStage(ctx context.Context, col ports.Collector, q ports.ReadingQueue, pol ports.Policy, obs ports.Observability) (<-chan struct{}, error) {
	ch := make(chan *domain.SensorReading, max(pol.MaxQueueLen, 1))

	if err := col.Start(ctx, ch); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				drainBuffered(ch, q, obs)
				return
			case r, ok := <-ch:
				if !ok {
					return
				}
				if !enqueueWithPolicy(ctx, q, r, pol, obs) {
					obs.IncCounter(ports.MetricIngestDropped, 1)
				}
				obs.SetGauge(ports.MetricQueueLength, float64(q.Len()))
			}
		}
	}()

	return done, nil
}

// drainBuffered moves readings already handed over by the collector into q
// without waiting for room.
func drainBuffered(ch <-chan *domain.SensorReading, q ports.ReadingQueue, obs ports.Observability) {
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return
			}
			if !q.Enqueue(r) {
				obs.IncCounter(ports.MetricIngestDropped, 1)
			}
		default:
			return
		}
	}
}

func enqueueWithPolicy(ctx context.Context, q ports.ReadingQueue, r *domain.SensorReading, pol ports.Policy, obs ports.Observability) bool {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdleSleep
	}

	for {
		if ok := q.Enqueue(r); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			if !sleepCtx(ctx, sleep) {
				return false
			}
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
				ports.Field{Key: "sensor_id", Value: r.SensorID})
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}

// sleepCtx reports false when ctx ended before d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
