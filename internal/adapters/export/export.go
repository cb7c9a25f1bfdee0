package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

var columns = []string{"sensor_id", "timestamp_us", "data_type", "quality", "payload_base64", "checksum", "metadata"}

// Registry maps a format name to its exporter.
type Registry struct {
	exporters map[string]ports.Exporter
}

// NewRegistry holds the CSV, JSON lines and XLSX exporters plus any extras.
func NewRegistry(extra ...ports.Exporter) *Registry {
	r := &Registry{exporters: make(map[string]ports.Exporter)}
	for _, e := range append([]ports.Exporter{CSV{}, JSONLines{}, XLSX{}}, extra...) {
		r.exporters[e.Format()] = e
	}
	return r
}

func (r *Registry) Get(format string) (ports.Exporter, error) {
	e, ok := r.exporters[format]
	if !ok {
		return nil, fmt.Errorf("%w: export format %q", domain.ErrFeatureNotSupported, format)
	}
	return e, nil
}

func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.exporters))
	for f := range r.exporters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// flatten renders a reading as strings in column order.
func flatten(r *domain.SensorReading) ([]string, error) {
	meta := "{}"
	if len(r.Metadata) > 0 {
		raw, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata of %s: %v", domain.ErrSerialization, r.SensorID, err)
		}
		meta = string(raw)
	}
	return []string{
		r.SensorID,
		strconv.FormatInt(r.TimestampUS, 10),
		string(r.DataType.Kind),
		strconv.FormatFloat(r.Quality, 'f', -1, 64),
		base64.StdEncoding.EncodeToString(r.Payload),
		r.Checksum,
		meta,
	}, nil
}
