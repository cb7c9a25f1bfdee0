package ports

import "github.com/vkanta/glsp-mcp-sub001/internal/domain"

// ReadingQueue is a bounded FIFO between collectors and the store.
type ReadingQueue interface {
	Enqueue(r *domain.SensorReading) bool
	DequeueBatch(max int) []*domain.SensorReading
	Len() int
}
