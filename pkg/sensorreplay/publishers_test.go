package sensorreplay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCallbackPublisher(t *testing.T) {
	var got []*SensorFrame
	var dataset string
	pub := NewCallbackPublisher("cb", func(id string, f *SensorFrame) error {
		dataset = id
		got = append(got, f)
		return nil
	})

	frame := &SensorFrame{TimestampUS: 42, FrameNumber: 7}
	if err := pub.PublishFrame(context.Background(), "drive-1", frame); err != nil {
		t.Fatalf("PublishFrame returned error: %v", err)
	}
	if len(got) != 1 || got[0] != frame || dataset != "drive-1" {
		t.Fatalf("unexpected delivery: %v %q", got, dataset)
	}
	if pub.Name() != "cb" {
		t.Fatalf("unexpected name %q", pub.Name())
	}
}

func TestNewCallbackPublisherNilHandler(t *testing.T) {
	pub := NewCallbackPublisher("", nil)
	if pub.Name() != "callback" {
		t.Fatalf("expected default name, got %q", pub.Name())
	}
	if err := pub.PublishFrame(context.Background(), "d", &SensorFrame{}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelPublisher(t *testing.T) {
	pub, ch, closeFn := NewChannelPublisher("chan", 0)
	defer closeFn()

	frame := &SensorFrame{FrameNumber: 3}
	errCh := make(chan error, 1)
	go func() {
		errCh <- pub.PublishFrame(context.Background(), "d", frame)
	}()

	select {
	case got := <-ch:
		if got != frame {
			t.Fatalf("unexpected frame %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel frame")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("PublishFrame returned error: %v", err)
	}

	closeFn()
	if err := pub.PublishFrame(context.Background(), "d", frame); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected ErrPublisherClosed, got %v", err)
	}
}

func TestChannelPublisherHonoursContext(t *testing.T) {
	pub, _, closeFn := NewChannelPublisher("chan", 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pub.PublishFrame(ctx, "d", &SensorFrame{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
