package buffer

import "github.com/vkanta/glsp-mcp-sub001/internal/domain"

// Ring holds the most recent readings of one sensor. When full, Push evicts
// the oldest entry. Ring is not safe for concurrent use.
type Ring struct {
	items []*domain.SensorReading
	head  int
	size  int
	bytes int64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{items: make([]*domain.SensorReading, capacity)}
}

func (r *Ring) Cap() int { return len(r.items) }

func (r *Ring) Len() int { return r.size }

// SizeBytes is the payload total of the buffered readings.
func (r *Ring) SizeBytes() int64 { return r.bytes }

// Push appends reading and reports whether an old entry was evicted.
func (r *Ring) Push(reading *domain.SensorReading) bool {
	evicted := false
	if r.size == len(r.items) {
		old := r.items[r.head]
		r.bytes -= old.Size()
		r.items[r.head] = nil
		r.head = (r.head + 1) % len(r.items)
		r.size--
		evicted = true
	}
	tail := (r.head + r.size) % len(r.items)
	r.items[tail] = reading
	r.size++
	r.bytes += reading.Size()
	return evicted
}

// Items returns the buffered readings oldest first.
func (r *Ring) Items() []*domain.SensorReading {
	out := make([]*domain.SensorReading, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.head+i)%len(r.items)])
	}
	return out
}

// Nearest returns the reading closest to tsUS and its distance. Ties go to
// the older entry. It returns nil when the ring is empty.
func (r *Ring) Nearest(tsUS int64) (*domain.SensorReading, int64) {
	var (
		best     *domain.SensorReading
		bestDist int64
	)
	for i := 0; i < r.size; i++ {
		cand := r.items[(r.head+i)%len(r.items)]
		d := cand.TimestampUS - tsUS
		if d < 0 {
			d = -d
		}
		if best == nil || d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best, bestDist
}

func (r *Ring) Clear() {
	for i := range r.items {
		r.items[i] = nil
	}
	r.head, r.size, r.bytes = 0, 0, 0
}
