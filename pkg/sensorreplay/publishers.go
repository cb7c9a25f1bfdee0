package sensorreplay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPublisherClosed is returned when a channel publisher is written to after being closed.
var ErrPublisherClosed = errors.New("sensorreplay: publisher closed")

// FrameHandler receives every replayed frame together with its dataset id.
type FrameHandler func(datasetID string, frame *SensorFrame) error

// NewCallbackPublisher adapts a FrameHandler into a FramePublisher so callers
// can plug arbitrary functions without defining structs.
func NewCallbackPublisher(name string, fn FrameHandler) FramePublisher {
	if name == "" {
		name = "callback"
	}
	return &callbackPublisher{name: name, fn: fn}
}

// NewChannelPublisher exposes frames via a channel; it returns the publisher,
// the read-only channel, and a close function the caller should invoke
// during shutdown.
func NewChannelPublisher(name string, buffer int) (FramePublisher, <-chan *SensorFrame, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan *SensorFrame, buffer)
	p := &channelPublisher{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return p, ch, p.close
}

type callbackPublisher struct {
	name string
	fn   FrameHandler
}

func (p *callbackPublisher) PublishFrame(_ context.Context, datasetID string, frame *SensorFrame) error {
	if p.fn == nil {
		return fmt.Errorf("callback publisher %q: nil handler", p.name)
	}
	if frame == nil {
		return nil
	}
	return p.fn(datasetID, frame)
}

func (p *callbackPublisher) Name() string { return p.name }
func (p *callbackPublisher) Close() error { return nil }

type channelPublisher struct {
	name string
	ch   chan *SensorFrame

	mu     sync.RWMutex
	closed chan struct{}
	once   sync.Once
}

func (p *channelPublisher) PublishFrame(ctx context.Context, _ string, frame *SensorFrame) error {
	if frame == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closed:
		return ErrPublisherClosed
	default:
	}

	select {
	case <-p.closed:
		return ErrPublisherClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- frame:
		return nil
	}
}

func (p *channelPublisher) Name() string { return p.name }

// Close is a no-op so the runtime's shutdown leaves the channel to its owner.
func (p *channelPublisher) Close() error { return nil }

func (p *channelPublisher) close() {
	p.once.Do(func() {
		close(p.closed)
		p.mu.Lock()
		close(p.ch)
		p.mu.Unlock()
	})
}
