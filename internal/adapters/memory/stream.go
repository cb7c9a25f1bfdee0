package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const subscriberBuffer = 64

// hub fans stored readings out to live subscribers. Slow subscribers lose
// readings rather than blocking writers.
type hub struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscription]struct{})}
}

func (h *hub) broadcast(r *domain.SensorReading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.wants(r.SensorID) {
			continue
		}
		select {
		case s.ch <- r.Clone():
		default:
		}
	}
}

func (h *hub) add(s *subscription) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

type subscription struct {
	hub     *hub
	sensors map[string]struct{}
	ch      chan *domain.SensorReading
	once    sync.Once
}

func (s *subscription) wants(id string) bool {
	if len(s.sensors) == 0 {
		return true
	}
	_, ok := s.sensors[id]
	return ok
}

func (s *subscription) C() <-chan *domain.SensorReading { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() { s.hub.remove(s) })
	return nil
}

type streamer struct{ b *Backend }

// Subscribe streams readings stored after the call. The stream closes when
// ctx ends, Close is called or the backend disconnects.
func (st *streamer) Subscribe(ctx context.Context, sensorIDs []string) (ports.SensorStream, error) {
	if !st.b.IsConnected() {
		return nil, fmt.Errorf("%w: %s backend is not connected", domain.ErrConnection, backendName)
	}
	s := &subscription{
		hub:     st.b.hub,
		sensors: make(map[string]struct{}, len(sensorIDs)),
		ch:      make(chan *domain.SensorReading, subscriberBuffer),
	}
	for _, id := range sensorIDs {
		s.sensors[id] = struct{}{}
	}
	st.b.hub.add(s)

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

// Publish fans a reading out to subscribers without storing it.
func (st *streamer) Publish(ctx context.Context, r *domain.SensorReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	st.b.hub.broadcast(r)
	return nil
}

type txProvider struct{ b *Backend }

func (p *txProvider) Begin(ctx context.Context) (ports.Transaction, error) {
	if !p.b.IsConnected() {
		return nil, fmt.Errorf("%w: %s backend is not connected", domain.ErrConnection, backendName)
	}
	return &memTx{b: p.b}, nil
}

// memTx stages readings and applies them in one StoreBatch on Commit.
type memTx struct {
	mu      sync.Mutex
	b       *Backend
	pending []*domain.SensorReading
	done    bool
}

func (t *memTx) StoreReading(ctx context.Context, r *domain.SensorReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrTransaction)
	}
	t.pending = append(t.pending, r.Clone())
	return nil
}

func (t *memTx) StoreBatch(ctx context.Context, batch *domain.SensorBatch) error {
	if batch == nil {
		return nil
	}
	for _, r := range batch.Readings {
		if err := t.StoreReading(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrTransaction)
	}
	t.done = true
	if len(t.pending) == 0 {
		return nil
	}
	batch := &domain.SensorBatch{BatchID: "tx", Readings: t.pending, Source: "transaction"}
	if err := t.b.StoreBatch(context.Background(), batch); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.pending = nil
	return nil
}
