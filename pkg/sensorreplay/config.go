package sensorreplay

import (
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/opcua"
	"github.com/vkanta/glsp-mcp-sub001/internal/adapters/publish"
	"github.com/vkanta/glsp-mcp-sub001/internal/app/config"
	"github.com/vkanta/glsp-mcp-sub001/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// DatabaseConfig selects and tunes the storage backend.
	DatabaseConfig = config.DatabaseConfig
	// BackendType names a storage backend ("mock", "postgresql", "redis", ...).
	BackendType = config.BackendType
	// ReplayConfig drives the sensor data bridge.
	ReplayConfig = config.ReplayConfig
	// PublishConfig enables the NATS and MQTT frame publishers.
	PublishConfig = config.PublishConfig
	NATSConfig    = publish.NATSConfig
	MQTTConfig    = publish.MQTTConfig
	// IngestConfig enables live collection into the backend.
	IngestConfig = config.IngestConfig
	// Policy bounds the live ingest queue.
	Policy = ports.Policy
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig describes a monitored tag.
	OPCUANodeConfig = opcua.NodeConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
)

const (
	BackendPostgreSQL = config.BackendPostgreSQL
	BackendInfluxDB   = config.BackendInfluxDB
	BackendRedis      = config.BackendRedis
	BackendSQLite     = config.BackendSQLite
	BackendMock       = config.BackendMock
)

// LoadConfig loads YAML from disk, applies GLSP_DB_* overrides and validates.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig is the configuration used when no file is given: an in-memory
// backend, no publishers and no live ingest.
func DefaultConfig() *Config {
	cfg := config.Default()
	cfg.Database = config.MockConfig()
	return cfg
}

// DatabaseConfigFromEnv builds a backend configuration from GLSP_DB_*
// variables only.
func DatabaseConfigFromEnv(getenv func(string) string) (DatabaseConfig, error) {
	return config.FromEnv(getenv)
}
