package buffer

import (
	"sync"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// Queue is a bounded in-memory reading queue that preserves FIFO ordering.
// Enqueue refuses new readings when full; the caller applies the policy.
type Queue struct {
	mu   sync.Mutex
	data []*domain.SensorReading
	cap  int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		data: make([]*domain.SensorReading, 0, capacity),
		cap:  capacity,
	}
}

func (q *Queue) Enqueue(r *domain.SensorReading) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, r)
	return true
}

func (q *Queue) DequeueBatch(max int) []*domain.SensorReading {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]*domain.SensorReading, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.ReadingQueue = (*Queue)(nil)
