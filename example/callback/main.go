package main

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/vkanta/glsp-mcp-sub001/pkg/sensorreplay"
)

func main() {
	cfg := sensorreplay.DefaultConfig()
	cfg.Metrics.Addr = ""

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := sensorreplay.NewRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("runtime: %v", err)
	}
	defer rt.Shutdown(context.Background())

	var readings []*sensorreplay.SensorReading
	for i := int64(0); i < 100; i++ {
		readings = append(readings, sensorreplay.NewSensorReading("imu_main", i*10_000, sensorreplay.GenericData("imu", 1), []byte{byte(i)}))
	}
	if err := rt.Datasets().ImportData(ctx, cfg.Replay.DatasetID, sensorreplay.NewSensorBatch("example", readings)); err != nil {
		log.Fatalf("import: %v", err)
	}

	printer := sensorreplay.NewCallbackPublisher("stdout", func(datasetID string, frame *sensorreplay.SensorFrame) error {
		ids := make([]string, 0, len(frame.Readings))
		for id := range frame.Readings {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Printf("%s frame=%d t=%dus sensors=%v interpolated=%t\n",
			datasetID, frame.FrameNumber, frame.TimestampUS, ids, frame.IsInterpolated)
		return nil
	})

	if err := rt.ReplayTo(ctx, printer); err != nil && err != context.Canceled {
		log.Fatalf("replay: %v", err)
	}
}
