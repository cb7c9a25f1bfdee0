package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/opcua"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/publish"
	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Replay   ReplayConfig   `yaml:"replay"`
	Publish  PublishConfig  `yaml:"publish"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Backup   BackupConfig   `yaml:"backup"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ReplayConfig drives the sensor data bridge.
type ReplayConfig struct {
	DatasetID     string   `yaml:"dataset_id"`
	Sensors       []string `yaml:"sensors"`
	PlaybackSpeed float64  `yaml:"playback_speed"`
	TargetFPS     float64  `yaml:"target_fps"`
	Loop          bool     `yaml:"loop"`
	StartTimeUS   *int64   `yaml:"start_time_us"`
	EndTimeUS     *int64   `yaml:"end_time_us"`
	SyncMode      string   `yaml:"sync_mode"`
	MaxBufferSize int      `yaml:"max_buffer_size"`
	PrefetchSecs  int      `yaml:"prefetch_secs"`
	MaxMemoryMB   int      `yaml:"max_memory_mb"`
	MaxGapUS      int64    `yaml:"max_gap_us"`
}

// PublishConfig enables a publisher when its address is set.
type PublishConfig struct {
	NATS publish.NATSConfig `yaml:"nats"`
	MQTT publish.MQTTConfig `yaml:"mqtt"`
}

type IngestConfig struct {
	Enabled bool         `yaml:"enabled"`
	Source  string       `yaml:"source"`
	Policy  ports.Policy `yaml:"policy"`
	OPCUA   opcua.Config `yaml:"opcua"`
}

type BackupConfig struct {
	Dir string `yaml:"dir"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Database: DefaultDatabaseConfig()}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(raw, os.Getenv)
}

// parse overlays raw onto the preset of the backend it names, so fields the
// file leaves out keep their backend defaults.
func parse(raw []byte, getenv func(string) string) (*Config, error) {
	var probe struct {
		Database struct {
			Backend string `yaml:"backend"`
		} `yaml:"database"`
	}
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	backend := BackendPostgreSQL
	if probe.Database.Backend != "" {
		b, err := ParseBackendType(probe.Database.Backend)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	cfg := Config{Database: presetFor(backend)}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	cfg.Database.Backend = backend

	if err := applyDatabaseEnv(&cfg.Database, getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "sensor-replay"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	if c.Replay.DatasetID == "" {
		c.Replay.DatasetID = "default"
	}
	if c.Replay.PlaybackSpeed == 0 {
		c.Replay.PlaybackSpeed = 1.0
	}
	if c.Replay.TargetFPS == 0 {
		c.Replay.TargetFPS = 30
	}
	if c.Replay.SyncMode == "" {
		c.Replay.SyncMode = "original_timestamp"
	}
	if c.Replay.MaxBufferSize == 0 {
		c.Replay.MaxBufferSize = 1000
	}
	if c.Replay.PrefetchSecs == 0 {
		c.Replay.PrefetchSecs = 100
	}
	if c.Replay.MaxMemoryMB == 0 {
		c.Replay.MaxMemoryMB = 100
	}
	if c.Replay.MaxGapUS == 0 {
		c.Replay.MaxGapUS = 1_000_000
	}

	if c.Ingest.Source == "" {
		c.Ingest.Source = "opcua"
	}
	if c.Ingest.Policy.MaxQueueLen == 0 {
		c.Ingest.Policy.MaxQueueLen = 100_000
	}
	if c.Ingest.Policy.MaxBatchSize == 0 {
		c.Ingest.Policy.MaxBatchSize = c.Database.Features.MaxBatchSize
	}
	if c.Ingest.Policy.IdleSleep == 0 {
		c.Ingest.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Ingest.Policy.FlushEvery == 0 {
		c.Ingest.Policy.FlushEvery = time.Second
	}
	if c.Ingest.Policy.OnQueueFull == "" {
		c.Ingest.Policy.OnQueueFull = "block"
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "./data/backups"
	}

	if c.Ingest.Enabled {
		c.Ingest.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be json or console", domain.ErrConfiguration)
	}
	if c.Replay.PlaybackSpeed <= 0 {
		return fmt.Errorf("%w: replay.playback_speed must be positive", domain.ErrConfiguration)
	}
	if c.Replay.TargetFPS <= 0 {
		return fmt.Errorf("%w: replay.target_fps must be positive", domain.ErrConfiguration)
	}
	if c.Replay.StartTimeUS != nil && c.Replay.EndTimeUS != nil && *c.Replay.StartTimeUS > *c.Replay.EndTimeUS {
		return fmt.Errorf("%w: replay start after end", domain.ErrTimeRange)
	}
	switch c.Replay.SyncMode {
	case "original_timestamp", "simulation_time", "fixed_frame_rate", "real_time":
	default:
		return fmt.Errorf("%w: unknown replay.sync_mode %q", domain.ErrConfiguration, c.Replay.SyncMode)
	}
	switch c.Ingest.Policy.OnQueueFull {
	case "block", "drop":
	default:
		return fmt.Errorf("%w: ingest.policy.on_queue_full must be block or drop", domain.ErrConfiguration)
	}
	if c.Publish.MQTT.QoS > 2 {
		return fmt.Errorf("%w: publish.mqtt.qos must be 0, 1 or 2", domain.ErrConfiguration)
	}
	if c.Ingest.Enabled {
		if c.Ingest.Source != "opcua" {
			return fmt.Errorf("%w: unknown ingest.source %q", domain.ErrConfiguration, c.Ingest.Source)
		}
		if err := c.Ingest.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	return nil
}
