package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// Envelope is the wire form of a published frame.
type Envelope struct {
	DatasetID string              `json:"dataset_id"`
	Frame     *domain.SensorFrame `json:"frame"`
}

func encode(datasetID string, frame *domain.SensorFrame) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", domain.ErrInvalidData)
	}
	raw, err := json.Marshal(Envelope{DatasetID: datasetID, Frame: frame})
	if err != nil {
		return nil, fmt.Errorf("%w: encode frame %d: %v", domain.ErrSerialization, frame.FrameNumber, err)
	}
	return raw, nil
}

// Fanout hands every frame to each publisher. A failing publisher does not
// stop delivery to the others; their errors are joined.
type Fanout struct {
	pubs []ports.FramePublisher
}

func NewFanout(pubs ...ports.FramePublisher) *Fanout {
	return &Fanout{pubs: pubs}
}

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Len() int { return len(f.pubs) }

func (f *Fanout) PublishFrame(ctx context.Context, datasetID string, frame *domain.SensorFrame) error {
	var errs []error
	for _, p := range f.pubs {
		if err := p.PublishFrame(ctx, datasetID, frame); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Channel delivers frames to an in-process consumer. When the channel is
// full PublishFrame waits until ctx ends.
type Channel struct {
	ch chan<- *domain.SensorFrame
}

func NewChannel(ch chan<- *domain.SensorFrame) *Channel {
	return &Channel{ch: ch}
}

func (c *Channel) Name() string { return "channel" }

func (c *Channel) PublishFrame(ctx context.Context, datasetID string, frame *domain.SensorFrame) error {
	select {
	case c.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) Close() error { return nil }

var (
	_ ports.FramePublisher = (*Fanout)(nil)
	_ ports.FramePublisher = (*Channel)(nil)
)
