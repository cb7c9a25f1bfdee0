package ports

import (
	"context"
	"io"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

// Exporter writes a dataset's readings in one file format.
type Exporter interface {
	Format() string
	Export(ctx context.Context, w io.Writer, ds *domain.SensorDataset, readings []*domain.SensorReading) error
}
