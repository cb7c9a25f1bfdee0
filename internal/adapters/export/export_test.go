package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

func sample() (*domain.SensorDataset, []*domain.SensorReading) {
	ds := &domain.SensorDataset{
		DatasetID: "ds-1",
		Name:      "city drive",
		Version:   "1.0",
		TimeRange: domain.TimeRange{StartTimeUS: 0, EndTimeUS: 200},
	}
	a := domain.NewSensorReading("imu_main", 100, domain.GenericData("imu", 2), []byte{0xde, 0xad})
	a.Metadata["frame"] = "base_link"
	b := domain.NewSensorReading("gps_main", 200, domain.GPSData(domain.GPSParams{Latitude: 1}), []byte{1})
	b.Quality = 0.5
	return ds, []*domain.SensorReading{a, b}
}

func TestCSVExport(t *testing.T) {
	ds, readings := sample()
	var buf bytes.Buffer
	if err := (CSV{}).Export(context.Background(), &buf, ds, readings); err != nil {
		t.Fatalf("export: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "sensor_id" || rows[1][0] != "imu_main" || rows[1][4] != "3q0=" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[2][2] != "gps" || rows[2][3] != "0.5" || rows[2][6] != "{}" {
		t.Fatalf("unexpected gps row %v", rows[2])
	}
	if rows[1][6] != `{"frame":"base_link"}` {
		t.Fatalf("unexpected metadata column %q", rows[1][6])
	}
}

func TestJSONLinesExport(t *testing.T) {
	ds, readings := sample()
	var buf bytes.Buffer
	if err := (JSONLines{}).Export(context.Background(), &buf, ds, readings); err != nil {
		t.Fatalf("export: %v", err)
	}

	sc := bufio.NewScanner(&buf)
	var lines [][]byte
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var r domain.SensorReading
	if err := json.Unmarshal(lines[1], &r); err != nil {
		t.Fatalf("decode reading: %v", err)
	}
	if r.SensorID != "imu_main" || !bytes.Equal(r.Payload, []byte{0xde, 0xad}) {
		t.Fatalf("unexpected reading %+v", r)
	}
}

func TestXLSXExport(t *testing.T) {
	ds, readings := sample()
	var buf bytes.Buffer
	if err := (XLSX{}).Export(context.Background(), &buf, ds, readings); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(readingsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[0][1] != "timestamp_us" || rows[2][1] != "200" {
		t.Fatalf("unexpected readings sheet %v", rows)
	}
	name, err := f.GetCellValue(datasetSheet, "B2")
	if err != nil || name != "city drive" {
		t.Fatalf("expected dataset name in summary, got %q (%v)", name, err)
	}
}

func TestExportStopsOnCancelledContext(t *testing.T) {
	ds, readings := sample()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := (CSV{}).Export(ctx, &buf, ds, readings); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if got := reg.Formats(); len(got) != 3 || got[0] != "csv" || got[1] != "jsonl" || got[2] != "xlsx" {
		t.Fatalf("unexpected formats %v", got)
	}
	if _, err := reg.Get("parquet"); !errors.Is(err, domain.ErrFeatureNotSupported) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if e, err := reg.Get("xlsx"); err != nil || e.Format() != "xlsx" {
		t.Fatalf("expected xlsx exporter, got %v, %v", e, err)
	}
}

func TestReadJSONLinesRoundTrip(t *testing.T) {
	ds, readings := sample()
	var buf bytes.Buffer
	if err := (JSONLines{}).Export(context.Background(), &buf, ds, readings); err != nil {
		t.Fatalf("export: %v", err)
	}

	var got []*domain.SensorReading
	err := ReadJSONLines(context.Background(), &buf, func(r *domain.SensorReading) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(got))
	}
	if got[0].SensorID != "imu_main" || !bytes.Equal(got[0].Payload, []byte{0xde, 0xad}) {
		t.Fatalf("unexpected first reading %+v", got[0])
	}
	if got[1].DataType.Kind != domain.KindGPS || got[1].Quality != 0.5 {
		t.Fatalf("unexpected second reading %+v", got[1])
	}
}

func TestReadJSONLinesRejectsGarbage(t *testing.T) {
	err := ReadJSONLines(context.Background(), bytes.NewBufferString("{not json}\n"), func(*domain.SensorReading) error { return nil })
	if !errors.Is(err, domain.ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}
