package ports

import (
	"context"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

// Collector produces live readings until Stop is called.
type Collector interface {
	Start(ctx context.Context, out chan<- *domain.SensorReading) error
	Stop() error
}
