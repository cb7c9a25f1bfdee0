package domain

import (
	"fmt"
	"math"
)

// SensorQuery filters readings. Filters apply in order: sensor ids, time
// range, quality, data type, downsample, limit.
type SensorQuery struct {
	SensorIDs            []string     `json:"sensor_ids,omitempty"`
	StartTimeUS          int64        `json:"start_time_us"`
	EndTimeUS            int64        `json:"end_time_us"`
	Limit                int          `json:"limit,omitempty"`
	MinQuality           *float64     `json:"min_quality,omitempty"`
	DownsampleIntervalUS int64        `json:"downsample_interval_us,omitempty"`
	DataTypes            []SensorKind `json:"data_types,omitempty"`
}

// TimeRangeQuery matches every sensor inside [start, end].
func TimeRangeQuery(startUS, endUS int64) SensorQuery {
	return SensorQuery{StartTimeUS: startUS, EndTimeUS: endUS}
}

// AllTimeQuery matches every reading.
func AllTimeQuery() SensorQuery {
	return SensorQuery{StartTimeUS: math.MinInt64, EndTimeUS: math.MaxInt64}
}

func (q SensorQuery) WithSensors(ids ...string) SensorQuery {
	q.SensorIDs = append([]string(nil), ids...)
	return q
}

func (q SensorQuery) WithLimit(n int) SensorQuery {
	q.Limit = n
	return q
}

func (q SensorQuery) WithMinQuality(min float64) SensorQuery {
	q.MinQuality = &min
	return q
}

func (q SensorQuery) WithDataTypes(kinds ...SensorKind) SensorQuery {
	q.DataTypes = append([]SensorKind(nil), kinds...)
	return q
}

func (q SensorQuery) WithDownsample(intervalUS int64) SensorQuery {
	q.DownsampleIntervalUS = intervalUS
	return q
}

func (q SensorQuery) Validate() error {
	if q.StartTimeUS > q.EndTimeUS {
		return fmt.Errorf("%w: start %d after end %d", ErrTimeRange, q.StartTimeUS, q.EndTimeUS)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidData, q.Limit)
	}
	if q.MinQuality != nil && (*q.MinQuality < 0 || *q.MinQuality > 1) {
		return fmt.Errorf("%w: min_quality %.3f outside [0,1]", ErrInvalidData, *q.MinQuality)
	}
	if q.DownsampleIntervalUS < 0 {
		return fmt.Errorf("%w: negative downsample interval", ErrInvalidData)
	}
	return nil
}

func (q SensorQuery) MatchesSensor(id string) bool {
	if len(q.SensorIDs) == 0 {
		return true
	}
	for _, s := range q.SensorIDs {
		if s == id {
			return true
		}
	}
	return false
}

func (q SensorQuery) MatchesTime(ts int64) bool {
	return ts >= q.StartTimeUS && ts <= q.EndTimeUS
}

func (q SensorQuery) MatchesQuality(quality float64) bool {
	return q.MinQuality == nil || quality >= *q.MinQuality
}

func (q SensorQuery) MatchesDataType(kind SensorKind) bool {
	if len(q.DataTypes) == 0 {
		return true
	}
	for _, k := range q.DataTypes {
		if k == kind {
			return true
		}
	}
	return false
}

// DownsampleSorted keeps the first reading of each sensor per interval
// bucket. Input must be ordered by timestamp.
func DownsampleSorted(sorted []*SensorReading, intervalUS int64) []*SensorReading {
	type key struct {
		sensor string
		bucket int64
	}
	seen := make(map[key]struct{})
	out := make([]*SensorReading, 0, len(sorted))
	for _, r := range sorted {
		k := key{sensor: r.SensorID, bucket: floorDiv(r.TimestampUS, intervalUS)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
