package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/go-redis/redis/v8"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

const subscriberBuffer = 64

type streamer struct{ b *Backend }

// Subscribe listens on the live channel of each sensor, or on every sensor
// when sensorIDs is empty.
func (st streamer) Subscribe(ctx context.Context, sensorIDs []string) (ports.SensorStream, error) {
	if err := st.b.checkConnected(); err != nil {
		return nil, err
	}
	var ps *goredis.PubSub
	if len(sensorIDs) == 0 {
		ps = st.b.client.PSubscribe(ctx, liveChannel("*"))
	} else {
		channels := make([]string, len(sensorIDs))
		for i, id := range sensorIDs {
			channels[i] = liveChannel(id)
		}
		ps = st.b.client.Subscribe(ctx, channels...)
	}
	// Wait for the confirmation so readings published right after Subscribe
	// returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, classify(domain.ErrConnection, "subscribe", err)
	}

	s := &subscription{
		b:    st.b,
		ps:   ps,
		ch:   make(chan *domain.SensorReading, subscriberBuffer),
		stop: make(chan struct{}),
	}
	st.b.subsMu.Lock()
	st.b.subs[s] = struct{}{}
	st.b.subsMu.Unlock()

	go s.pump(ctx)
	return s, nil
}

// Publish announces a reading without storing it.
func (st streamer) Publish(ctx context.Context, r *domain.SensorReading) error {
	if err := st.b.checkConnected(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: encode reading: %v", domain.ErrSerialization, err)
	}
	if err := st.b.client.Publish(ctx, liveChannel(r.SensorID), raw).Err(); err != nil {
		return classify(domain.ErrWrite, "publish reading", err)
	}
	return nil
}

type subscription struct {
	b    *Backend
	ps   *goredis.PubSub
	ch   chan *domain.SensorReading
	stop chan struct{}
	once sync.Once
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var r domain.SensorReading
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				continue
			}
			select {
			case s.ch <- &r:
			default:
				// slow consumer; drop
			}
		}
	}
}

func (s *subscription) C() <-chan *domain.SensorReading { return s.ch }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.b.subsMu.Lock()
		delete(s.b.subs, s)
		s.b.subsMu.Unlock()
		err = s.ps.Close()
	})
	return err
}

type txProvider struct{ b *Backend }

func (p txProvider) Begin(ctx context.Context) (ports.Transaction, error) {
	if err := p.b.checkConnected(); err != nil {
		return nil, err
	}
	return &redisTx{b: p.b}, nil
}

// redisTx stages readings and writes them in one MULTI/EXEC block on Commit.
type redisTx struct {
	mu      sync.Mutex
	b       *Backend
	pending []*domain.SensorReading
	done    bool
}

func (t *redisTx) StoreReading(ctx context.Context, r *domain.SensorReading) error {
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

func (t *redisTx) StoreBatch(ctx context.Context, batch *domain.SensorBatch) error {
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

func (t *redisTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrTransaction)
	}
	t.done = true
	if len(t.pending) == 0 {
		return nil
	}
	if err := t.b.checkConnected(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}
	if err := t.b.write(context.Background(), t.pending); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}
	return nil
}

func (t *redisTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.pending = nil
	return nil
}
