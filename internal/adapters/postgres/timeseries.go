package postgres

import (
	"context"
	"fmt"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// Downsample keeps the first reading of each interval bucket.
func (b *Backend) Downsample(ctx context.Context, sensorID string, startUS, endUS, intervalUS int64) ([]*domain.SensorReading, error) {
	if intervalUS <= 0 {
		return nil, fmt.Errorf("%w: downsample interval must be positive", domain.ErrInvalidData)
	}
	q := domain.TimeRangeQuery(startUS, endUS).
		WithSensors(sensorID).
		WithDownsample(intervalUS)
	return b.QueryReadings(ctx, q)
}

// Interpolate answers each timestamp with the nearest stored reading,
// retimed to the requested instant.
func (b *Backend) Interpolate(ctx context.Context, sensorID string, timestampsUS []int64) ([]*domain.SensorReading, error) {
	out := make([]*domain.SensorReading, 0, len(timestampsUS))
	for _, ts := range timestampsUS {
		r, err := b.GetReadingAtTime(ctx, sensorID, ts)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrSensorNotFound, sensorID)
		}
		source := r.TimestampUS
		r.TimestampUS = ts
		r.Metadata["interpolated"] = true
		r.Metadata["source_timestamp_us"] = source
		r.Checksum = ""
		out = append(out, r)
	}
	return out, nil
}

func (b *Backend) Aggregate(ctx context.Context, sensorID string, startUS, endUS, windowUS int64) ([]domain.SensorStatistics, error) {
	return nil, ports.Unsupported(backendName, "aggregate")
}

func (b *Backend) DetectGaps(ctx context.Context, sensorID string, startUS, endUS, maxGapUS int64) ([]domain.TimeRange, error) {
	return nil, ports.Unsupported(backendName, "detect_gaps")
}
