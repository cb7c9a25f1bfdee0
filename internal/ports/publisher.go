package ports

import (
	"context"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

// FramePublisher delivers replayed frames to an outside consumer.
type FramePublisher interface {
	PublishFrame(ctx context.Context, datasetID string, frame *domain.SensorFrame) error
	Name() string
	Close() error
}
