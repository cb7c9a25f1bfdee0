package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

const maxLineBytes = 64 << 20

// ReadJSONLines streams readings written by JSONLines back to fn. The
// dataset header line and blank lines are skipped.
func ReadJSONLines(ctx context.Context, r io.Reader, fn func(*domain.SensorReading) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var probe struct {
			Dataset json.RawMessage `json:"dataset"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return fmt.Errorf("%w: line %d: %v", domain.ErrSerialization, line, err)
		}
		if probe.Dataset != nil {
			continue
		}
		var reading domain.SensorReading
		if err := json.Unmarshal(raw, &reading); err != nil {
			return fmt.Errorf("%w: line %d: %v", domain.ErrSerialization, line, err)
		}
		if err := fn(&reading); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRead, err)
	}
	return nil
}
