package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/export"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/pkg/sensorreplay"
)

const importChunk = 10_000

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "replay":
		err = replayCommand(os.Args[2:])
	case "import":
		err = importCommand(os.Args[2:])
	case "export":
		err = exportCommand(os.Args[2:])
	case "datasets":
		err = datasetsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("sensor-replay %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := sensorreplay.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := sensorreplay.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good (backend=%s dataset=%s)\n", *cfgPath, cfg.Database.Backend, cfg.Replay.DatasetID)
	return nil
}

// openRuntime loads the config and connects its backend without starting
// ingest, replay or the metrics server.
func openRuntime(ctx context.Context, path string) (*sensorreplay.Runtime, error) {
	cfg, err := sensorreplay.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return sensorreplay.NewRuntime(ctx, cfg)
}

func closeRuntime(rt *sensorreplay.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

func replayCommand(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	dataset := fs.String("dataset", "", "Dataset to replay (overrides replay.dataset_id)")
	sensors := fs.String("sensors", "", "Comma separated sensor ids (overrides replay.sensors)")
	stdout := fs.Bool("stdout", false, "Print frames as JSON lines instead of using configured publishers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	if *dataset != "" {
		rt.Config().Replay.DatasetID = *dataset
	}
	if *sensors != "" {
		rt.Config().Replay.Sensors = strings.Split(*sensors, ",")
	}

	if !*stdout && rt.Publishers() > 0 {
		return rt.Replay(ctx)
	}
	enc := json.NewEncoder(os.Stdout)
	printer := sensorreplay.NewCallbackPublisher("stdout", func(_ string, f *sensorreplay.SensorFrame) error {
		return enc.Encode(f)
	})
	return rt.ReplayTo(ctx, printer)
}

func importCommand(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	dataset := fs.String("dataset", "default", "Dataset to import into")
	file := fs.String("file", "", "JSON lines file produced by export (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in := os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	rt, err := openRuntime(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	var (
		pending []*domain.SensorReading
		total   int
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := rt.Datasets().ImportData(ctx, *dataset, domain.NewSensorBatch(*file, pending)); err != nil {
			return err
		}
		total += len(pending)
		pending = nil
		return nil
	}
	err = export.ReadJSONLines(ctx, in, func(r *domain.SensorReading) error {
		pending = append(pending, r)
		if len(pending) >= importChunk {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return err
	}
	fmt.Printf("imported %d readings into %s\n", total, *dataset)
	return nil
}

func exportCommand(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	dataset := fs.String("dataset", "default", "Dataset to export")
	format := fs.String("format", "jsonl", "Output format")
	out := fs.String("out", "-", "Output file (- for stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	w := os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := rt.Datasets().ExportDataset(ctx, *dataset, *format, w); err != nil {
		return fmt.Errorf("%w (formats: %s)", err, strings.Join(rt.Datasets().ExportFormats(), ", "))
	}
	return nil
}

func datasetsCommand(args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, *cfgPath)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	list, err := rt.Datasets().ListDatasets(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSENSORS\tSTART_US\tEND_US")
	for _, ds := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", ds.DatasetID, ds.Name, len(ds.Sensors), ds.TimeRange.StartTimeUS, ds.TimeRange.EndTimeUS)
	}
	return tw.Flush()
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"replay_readings_stored_total": 0,
		"replay_ingest_queue_length":   0,
		"replay_frames_emitted_total":  0,
		"replay_backend_healthy":       0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] stored=%.0f queue=%.0f frames=%.0f healthy=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["replay_readings_stored_total"],
		targets["replay_ingest_queue_length"],
		targets["replay_frames_emitted_total"],
		targets["replay_backend_healthy"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`sensor-replay CLI

Usage:
  sensor-replay <command> [flags]

Commands:
  run        Start ingest, replay and the metrics server from a config file
  validate   Load and validate a config file without connecting anything
  replay     Replay one dataset once to the configured publishers or stdout
  import     Load a JSON lines export into a dataset
  export     Write a dataset in one of the supported formats
  datasets   List known datasets
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  sensor-replay run -config ./data/config.yaml
  sensor-replay validate -config ./data/config.yaml
  sensor-replay replay -config ./data/config.yaml -dataset drive-1 -sensors imu_main,gps -stdout
  sensor-replay import -config ./data/config.yaml -dataset drive-1 -file drive-1.jsonl
  sensor-replay export -config ./data/config.yaml -dataset drive-1 -format csv -out drive-1.csv
  sensor-replay stats -url http://localhost:9100/metrics -interval 1s
`)
}
