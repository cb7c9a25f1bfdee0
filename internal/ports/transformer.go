package ports

import "github.com/vkanta/glsp-mcp-sub001/internal/domain"

// Transformer rewrites a reading before it is stored.
type Transformer interface {
	Transform(*domain.SensorReading) (*domain.SensorReading, error)
}
