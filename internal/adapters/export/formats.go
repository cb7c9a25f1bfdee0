package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// CSV writes one row per reading with a header line.
type CSV struct{}

func (CSV) Format() string { return "csv" }

func (CSV) Export(ctx context.Context, w io.Writer, ds *domain.SensorDataset, readings []*domain.SensorReading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("%w: csv header: %v", domain.ErrWrite, err)
	}
	for i, r := range readings {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row, err := flatten(r)
		if err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("%w: csv row: %v", domain.ErrWrite, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: csv flush: %v", domain.ErrWrite, err)
	}
	return nil
}

// JSONLines writes the dataset header followed by one reading per line.
type JSONLines struct{}

func (JSONLines) Format() string { return "jsonl" }

func (JSONLines) Export(ctx context.Context, w io.Writer, ds *domain.SensorDataset, readings []*domain.SensorReading) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if ds != nil {
		if err := enc.Encode(map[string]any{"dataset": ds}); err != nil {
			return fmt.Errorf("%w: jsonl header: %v", domain.ErrSerialization, err)
		}
	}
	for i, r := range readings {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("%w: jsonl reading: %v", domain.ErrSerialization, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: jsonl flush: %v", domain.ErrWrite, err)
	}
	return nil
}

const (
	readingsSheet = "Readings"
	datasetSheet  = "Dataset"
)

// XLSX writes a workbook with a dataset summary sheet and a readings sheet.
type XLSX struct{}

func (XLSX) Format() string { return "xlsx" }

func (XLSX) Export(ctx context.Context, w io.Writer, ds *domain.SensorDataset, readings []*domain.SensorReading) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(readingsSheet)
	if err != nil {
		return fmt.Errorf("%w: xlsx sheet: %v", domain.ErrWrite, err)
	}
	if _, err := f.NewSheet(datasetSheet); err != nil {
		return fmt.Errorf("%w: xlsx sheet: %v", domain.ErrWrite, err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("%w: xlsx sheet: %v", domain.ErrWrite, err)
	}
	f.SetActiveSheet(idx)

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("%w: xlsx style: %v", domain.ErrWrite, err)
	}

	for col, name := range columns {
		if err := setCell(f, readingsSheet, col+1, 1, name); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(readingsSheet, "A1", lastHeaderCell(), headerStyle); err != nil {
		return fmt.Errorf("%w: xlsx style: %v", domain.ErrWrite, err)
	}

	for i, r := range readings {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row, err := flatten(r)
		if err != nil {
			return err
		}
		for col, v := range row {
			var value any = v
			switch col {
			case 1:
				value = r.TimestampUS
			case 3:
				value = r.Quality
			}
			if err := setCell(f, readingsSheet, col+1, i+2, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(readingsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("%w: xlsx panes: %v", domain.ErrWrite, err)
	}

	if ds != nil {
		summary := [][2]any{
			{"dataset_id", ds.DatasetID},
			{"name", ds.Name},
			{"description", ds.Description},
			{"version", ds.Version},
			{"start_time_us", ds.TimeRange.StartTimeUS},
			{"end_time_us", ds.TimeRange.EndTimeUS},
			{"sensors", len(ds.Sensors)},
			{"readings", len(readings)},
		}
		for i, kv := range summary {
			if err := setCell(f, datasetSheet, 1, i+1, kv[0]); err != nil {
				return err
			}
			if err := setCell(f, datasetSheet, 2, i+1, kv[1]); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("%w: xlsx write: %v", domain.ErrWrite, err)
	}
	return nil
}

func setCell(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("%w: xlsx cell: %v", domain.ErrWrite, err)
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("%w: xlsx cell %s: %v", domain.ErrWrite, cell, err)
	}
	return nil
}

func lastHeaderCell() string {
	cell, _ := excelize.CoordinatesToCellName(len(columns), 1)
	return cell
}

var (
	_ ports.Exporter = CSV{}
	_ ports.Exporter = JSONLines{}
	_ ports.Exporter = XLSX{}
)
