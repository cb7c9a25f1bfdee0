package sensorreplay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/memory"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

func TestIngesterStoresPublishedReadings(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	in, err := NewIngester(&IngesterConfig{Policy: Policy{MaxBatchSize: 4, IdleSleep: time.Millisecond}}, db)
	if err != nil {
		t.Fatalf("NewIngester returned error: %v", err)
	}
	for _, r := range imuSeries(10) {
		if err := in.Publish(ctx, r); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := in.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := db.QueryReadings(ctx, domain.AllTimeQuery())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected every published reading to be stored, got %d", len(got))
	}
	if err := in.Publish(ctx, imuSeries(1)[0]); !errors.Is(err, ErrIngesterClosed) {
		t.Fatalf("expected ErrIngesterClosed, got %v", err)
	}
}

func TestIngesterValidates(t *testing.T) {
	db := memory.New()
	if _, err := NewIngester(nil, db); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := NewIngester(&IngesterConfig{}, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for nil store, got %v", err)
	}
	if _, err := NewIngester(&IngesterConfig{Policy: Policy{OnQueueFull: "spill"}}, db); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected policy error, got %v", err)
	}

	in, err := NewIngester(&IngesterConfig{}, db)
	if err != nil {
		t.Fatalf("NewIngester returned error: %v", err)
	}
	defer in.Close(context.Background())
	if err := in.Publish(context.Background(), &SensorReading{}); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
}
