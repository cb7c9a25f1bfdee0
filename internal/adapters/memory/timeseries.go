package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

func (b *Backend) Downsample(ctx context.Context, sensorID string, startUS, endUS, intervalUS int64) ([]*domain.SensorReading, error) {
	if !b.features.Downsampling {
		return nil, ports.Unsupported(backendName, "downsample")
	}
	if intervalUS <= 0 {
		return nil, fmt.Errorf("%w: downsample interval must be positive", domain.ErrInvalidData)
	}
	q := domain.TimeRangeQuery(startUS, endUS).WithSensors(sensorID).WithDownsample(intervalUS)
	return b.QueryReadings(ctx, q)
}

// Interpolate produces one reading per requested timestamp. IMU and GPS
// values are interpolated linearly between the neighbours; other modalities
// carry the nearest neighbour's payload.
func (b *Backend) Interpolate(ctx context.Context, sensorID string, timestampsUS []int64) ([]*domain.SensorReading, error) {
	if !b.features.Interpolation {
		return nil, ports.Unsupported(backendName, "interpolate")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}

	sorted := append([]*domain.SensorReading(nil), b.sensorReadingsLocked(sensorID)...)
	if len(sorted) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSensorNotFound, sensorID)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TimestampUS < sorted[j].TimestampUS })

	out := make([]*domain.SensorReading, 0, len(timestampsUS))
	for _, ts := range timestampsUS {
		out = append(out, interpolateAt(sorted, ts))
	}
	return out, nil
}

func interpolateAt(sorted []*domain.SensorReading, ts int64) *domain.SensorReading {
	idx := sort.Search(len(sorted), func(i int) bool { return sorted[i].TimestampUS >= ts })
	if idx < len(sorted) && sorted[idx].TimestampUS == ts {
		return sorted[idx].Clone()
	}
	if idx == 0 {
		return markInterpolated(sorted[0].Clone(), ts, sorted[0].TimestampUS)
	}
	if idx == len(sorted) {
		last := sorted[len(sorted)-1]
		return markInterpolated(last.Clone(), ts, last.TimestampUS)
	}

	before, after := sorted[idx-1], sorted[idx]
	frac := float64(ts-before.TimestampUS) / float64(after.TimestampUS-before.TimestampUS)
	nearest := before
	if frac > 0.5 {
		nearest = after
	}
	out := markInterpolated(nearest.Clone(), ts, nearest.TimestampUS)
	out.Quality = minFloat(before.Quality, after.Quality)

	switch {
	case before.DataType.Kind == domain.KindIMU && after.DataType.Kind == domain.KindIMU:
		p := *nearest.DataType.IMU
		p.Acceleration = lerpVec(before.DataType.IMU.Acceleration, after.DataType.IMU.Acceleration, frac)
		p.AngularVelocity = lerpVec(before.DataType.IMU.AngularVelocity, after.DataType.IMU.AngularVelocity, frac)
		out.DataType = domain.IMUData(p)
	case before.DataType.Kind == domain.KindGPS && after.DataType.Kind == domain.KindGPS:
		bg, ag := before.DataType.GPS, after.DataType.GPS
		out.DataType = domain.GPSData(domain.GPSParams{
			Latitude:  lerp(bg.Latitude, ag.Latitude, frac),
			Longitude: lerp(bg.Longitude, ag.Longitude, frac),
			Altitude:  lerp(bg.Altitude, ag.Altitude, frac),
			AccuracyM: maxFloat(bg.AccuracyM, ag.AccuracyM),
		})
	}
	return out
}

func markInterpolated(r *domain.SensorReading, ts, source int64) *domain.SensorReading {
	r.TimestampUS = ts
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata["interpolated"] = true
	r.Metadata["source_timestamp_us"] = source
	r.Checksum = ""
	return r
}

// Aggregate computes statistics per fixed window inside [startUS, endUS].
// Empty windows are omitted.
func (b *Backend) Aggregate(ctx context.Context, sensorID string, startUS, endUS, windowUS int64) ([]domain.SensorStatistics, error) {
	if !b.features.Aggregation {
		return nil, ports.Unsupported(backendName, "aggregate")
	}
	if windowUS <= 0 {
		return nil, fmt.Errorf("%w: aggregation window must be positive", domain.ErrInvalidData)
	}
	if startUS > endUS {
		return nil, fmt.Errorf("%w: start %d after end %d", domain.ErrTimeRange, startUS, endUS)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}

	// Offsets are taken in uint64 so open bounds such as math.MinInt64 do not
	// overflow; r.TimestampUS >= startUS keeps the difference non-negative.
	windows := make(map[uint64][]*domain.SensorReading)
	for _, r := range b.sensorReadingsLocked(sensorID) {
		if r.TimestampUS < startUS || r.TimestampUS > endUS {
			continue
		}
		w := (uint64(r.TimestampUS) - uint64(startUS)) / uint64(windowUS)
		windows[w] = append(windows[w], r)
	}

	keys := make([]uint64, 0, len(windows))
	for k := range windows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]domain.SensorStatistics, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.ComputeStatistics(sensorID, windows[k], DefaultGapThresholdUS))
	}
	return out, nil
}

// DetectGaps returns spans between consecutive readings wider than maxGapUS.
func (b *Backend) DetectGaps(ctx context.Context, sensorID string, startUS, endUS, maxGapUS int64) ([]domain.TimeRange, error) {
	if !b.features.GapDetection {
		return nil, ports.Unsupported(backendName, "detect_gaps")
	}
	if maxGapUS <= 0 {
		return nil, fmt.Errorf("%w: max gap must be positive", domain.ErrInvalidData)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnectedLocked(); err != nil {
		return nil, err
	}

	var ts []int64
	for _, r := range b.sensorReadingsLocked(sensorID) {
		if r.TimestampUS >= startUS && r.TimestampUS <= endUS {
			ts = append(ts, r.TimestampUS)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	gaps := make([]domain.TimeRange, 0)
	for i := 1; i < len(ts); i++ {
		if ts[i]-ts[i-1] > maxGapUS {
			gaps = append(gaps, domain.TimeRange{StartTimeUS: ts[i-1], EndTimeUS: ts[i]})
		}
	}
	return gaps, nil
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func lerpVec(a, b domain.Vec3, t float64) domain.Vec3 {
	return domain.Vec3{X: lerp(a.X, b.X, t), Y: lerp(a.Y, b.Y, t), Z: lerp(a.Z, b.Z, t)}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
