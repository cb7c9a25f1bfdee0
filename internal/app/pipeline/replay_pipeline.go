package pipeline

import (
	"context"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/app/bridge"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// RunReplayLoop publishes the bridge's current frame once per frame period
// and advances it. It returns nil when a non-looping replay reaches its end
// and ctx.Err() when cancelled. The bridge must already be started.
func RunReplayLoop(ctx context.Context, b *bridge.Bridge, pub ports.FramePublisher, obs ports.Observability) error {
	cfg := b.Config()
	period := time.Duration(float64(time.Second) / cfg.Timing.TargetFPS)
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	obs.LogInfo("replay_started",
		ports.Field{Key: "dataset_id", Value: cfg.DatasetID},
		ports.Field{Key: "publisher", Value: pub.Name()},
		ports.Field{Key: "period", Value: period.String()},
	)

	emit := func() {
		frame := b.GetCurrentFrame()
		if frame == nil {
			return
		}
		if err := pub.PublishFrame(ctx, cfg.DatasetID, frame); err != nil {
			obs.IncCounter(ports.MetricPublishFailures, 1)
			obs.LogError("frame_publish_failed", err,
				ports.Field{Key: "frame", Value: frame.FrameNumber},
				ports.Field{Key: "publisher", Value: pub.Name()},
			)
			return
		}
		obs.IncCounter(ports.MetricFramesEmitted, 1)
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cont, err := b.AdvanceFrame(ctx)
		if err != nil {
			obs.LogError("replay_advance_failed", err, ports.Field{Key: "dataset_id", Value: cfg.DatasetID})
			if !domain.IsRetryable(err) {
				return err
			}
			continue
		}
		if !cont {
			obs.LogInfo("replay_finished",
				ports.Field{Key: "dataset_id", Value: cfg.DatasetID},
				ports.Field{Key: "frames", Value: b.GetSensorInterface().SimulationTime.FrameNumber},
			)
			return nil
		}
		emit()
	}
}
