package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

// BackendType names a storage backend.
type BackendType string

const (
	BackendPostgreSQL BackendType = "postgresql"
	BackendInfluxDB   BackendType = "influxdb"
	BackendRedis      BackendType = "redis"
	BackendSQLite     BackendType = "sqlite"
	BackendMock       BackendType = "mock"
)

// ParseBackendType accepts the canonical names and the short aliases.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgresql", "postgres":
		return BackendPostgreSQL, nil
	case "influxdb", "influx":
		return BackendInfluxDB, nil
	case "redis":
		return BackendRedis, nil
	case "sqlite":
		return BackendSQLite, nil
	case "mock":
		return BackendMock, nil
	default:
		return "", fmt.Errorf("%w: unknown database backend %q", domain.ErrConfiguration, s)
	}
}

type SSLConfig struct {
	Enabled    bool   `yaml:"enabled"`
	VerifyCert bool   `yaml:"verify_cert"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

type ConnectionConfig struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Database string            `yaml:"database"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	SSL      SSLConfig         `yaml:"ssl"`
	Params   map[string]string `yaml:"params"`
}

// PoolConfig values are in seconds.
type PoolConfig struct {
	MinConnections     int `yaml:"min_connections"`
	MaxConnections     int `yaml:"max_connections"`
	MaxLifetimeSecs    int `yaml:"max_lifetime_secs"`
	MaxIdleSecs        int `yaml:"max_idle_secs"`
	AcquireTimeoutSecs int `yaml:"acquire_timeout_secs"`
}

// TimeoutConfig values are in seconds.
type TimeoutConfig struct {
	ConnectionSecs  int `yaml:"connection_secs"`
	QuerySecs       int `yaml:"query_secs"`
	TransactionSecs int `yaml:"transaction_secs"`
	HealthCheckSecs int `yaml:"health_check_secs"`
}

func (t TimeoutConfig) Connection() time.Duration  { return secs(t.ConnectionSecs) }
func (t TimeoutConfig) Query() time.Duration       { return secs(t.QuerySecs) }
func (t TimeoutConfig) Transaction() time.Duration { return secs(t.TransactionSecs) }
func (t TimeoutConfig) HealthCheck() time.Duration { return secs(t.HealthCheckSecs) }

func (p PoolConfig) MaxLifetime() time.Duration    { return secs(p.MaxLifetimeSecs) }
func (p PoolConfig) MaxIdle() time.Duration        { return secs(p.MaxIdleSecs) }
func (p PoolConfig) AcquireTimeout() time.Duration { return secs(p.AcquireTimeoutSecs) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

type FeatureConfig struct {
	TimeSeries    bool `yaml:"time_series"`
	Streaming     bool `yaml:"streaming"`
	Transactions  bool `yaml:"transactions"`
	Compression   bool `yaml:"compression"`
	Retention     bool `yaml:"retention"`
	RetentionDays int  `yaml:"retention_days"`
	AutoIndexing  bool `yaml:"auto_indexing"`
	MaxBatchSize  int  `yaml:"max_batch_size"`
}

// DatabaseConfig selects and tunes one storage backend.
type DatabaseConfig struct {
	Backend    BackendType      `yaml:"backend"`
	Connection ConnectionConfig `yaml:"connection"`
	Pool       PoolConfig       `yaml:"pool"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Features   FeatureConfig    `yaml:"features"`
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Backend: BackendPostgreSQL,
		Connection: ConnectionConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "glsp_sensors",
			Username: "glsp",
			SSL:      SSLConfig{VerifyCert: true},
		},
		Pool: PoolConfig{
			MinConnections:     2,
			MaxConnections:     10,
			MaxLifetimeSecs:    3600,
			MaxIdleSecs:        600,
			AcquireTimeoutSecs: 30,
		},
		Timeouts: TimeoutConfig{
			ConnectionSecs:  30,
			QuerySecs:       60,
			TransactionSecs: 300,
			HealthCheckSecs: 10,
		},
		Features: FeatureConfig{
			TimeSeries:    true,
			Compression:   true,
			RetentionDays: 30,
			AutoIndexing:  true,
			MaxBatchSize:  1000,
		},
	}
}

func PostgreSQLConfig(host string, port int, database string) DatabaseConfig {
	c := DefaultDatabaseConfig()
	c.Backend = BackendPostgreSQL
	c.Connection.Host = host
	c.Connection.Port = port
	c.Connection.Database = database
	return c
}

func InfluxDBConfig(host string, port int, database string) DatabaseConfig {
	c := DefaultDatabaseConfig()
	c.Backend = BackendInfluxDB
	c.Connection.Host = host
	c.Connection.Port = port
	c.Connection.Database = database
	c.Features.Streaming = true
	return c
}

func RedisConfig(host string, port int) DatabaseConfig {
	c := DefaultDatabaseConfig()
	c.Backend = BackendRedis
	c.Connection.Host = host
	c.Connection.Port = port
	c.Connection.Database = "0"
	c.Connection.Username = ""
	c.Features.Streaming = true
	return c
}

func SQLiteConfig(path string) DatabaseConfig {
	c := DefaultDatabaseConfig()
	c.Backend = BackendSQLite
	c.Connection.Host = "localhost"
	c.Connection.Port = 0
	c.Connection.Database = path
	c.Connection.Username = ""
	c.Pool.MinConnections = 1
	c.Pool.MaxConnections = 1
	return c
}

func MockConfig() DatabaseConfig {
	c := DefaultDatabaseConfig()
	c.Backend = BackendMock
	c.Connection.Host = "mock"
	c.Connection.Database = "mock"
	return c
}

// presetFor returns the defaults a file or environment overlays for backend.
func presetFor(b BackendType) DatabaseConfig {
	switch b {
	case BackendInfluxDB:
		return InfluxDBConfig("localhost", 8086, "glsp_sensors")
	case BackendRedis:
		return RedisConfig("localhost", 6379)
	case BackendSQLite:
		return SQLiteConfig("glsp_sensors.db")
	case BackendMock:
		return MockConfig()
	default:
		return DefaultDatabaseConfig()
	}
}

func (c DatabaseConfig) Validate() error {
	if _, err := ParseBackendType(string(c.Backend)); err != nil {
		return err
	}
	if c.Connection.Host == "" {
		return fmt.Errorf("%w: host cannot be empty", domain.ErrConfiguration)
	}
	if c.Connection.Database == "" && c.Backend != BackendRedis {
		return fmt.Errorf("%w: database name cannot be empty", domain.ErrConfiguration)
	}
	if c.Pool.MinConnections > c.Pool.MaxConnections {
		return fmt.Errorf("%w: minimum connections cannot exceed maximum connections", domain.ErrConfiguration)
	}
	if c.Features.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be greater than 0", domain.ErrConfiguration)
	}
	return nil
}

// ConnectionString renders the backend specific DSN. It includes credentials.
func (c DatabaseConfig) ConnectionString() (string, error) {
	conn := c.Connection
	switch c.Backend {
	case BackendPostgreSQL:
		parts := []string{
			"host=" + conn.Host,
			"port=" + strconv.Itoa(conn.Port),
			"dbname=" + conn.Database,
		}
		if conn.Username != "" {
			parts = append(parts, "user="+conn.Username)
		}
		if conn.Password != "" {
			parts = append(parts, "password="+conn.Password)
		}
		if conn.SSL.Enabled {
			parts = append(parts, "sslmode=require")
		} else {
			parts = append(parts, "sslmode=disable")
		}
		return strings.Join(parts, " "), nil
	case BackendInfluxDB:
		scheme := "http"
		if conn.SSL.Enabled {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s:%d", scheme, conn.Host, conn.Port), nil
	case BackendRedis:
		scheme := "redis"
		if conn.SSL.Enabled {
			scheme = "rediss"
		}
		url := fmt.Sprintf("%s://%s:%d", scheme, conn.Host, conn.Port)
		if conn.Database != "" && conn.Database != "0" {
			url += "/" + conn.Database
		}
		return url, nil
	case BackendSQLite:
		return "sqlite:" + conn.Database, nil
	case BackendMock:
		return "mock://localhost/test", nil
	default:
		return "", fmt.Errorf("%w: unknown database backend %q", domain.ErrConfiguration, c.Backend)
	}
}

// ConnectionInfo describes the target without credentials.
func (c DatabaseConfig) ConnectionInfo() string {
	switch c.Backend {
	case BackendMock:
		return "mock://localhost/test"
	case BackendSQLite:
		return "sqlite:" + c.Connection.Database
	default:
		return fmt.Sprintf("%s://%s:%d/%s", c.Backend, c.Connection.Host, c.Connection.Port, c.Connection.Database)
	}
}

// RedisDB parses the database field as a redis logical database index.
func (c DatabaseConfig) RedisDB() (int, error) {
	if c.Connection.Database == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(c.Connection.Database)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: redis database must be a non-negative integer, got %q", domain.ErrConfiguration, c.Connection.Database)
	}
	return n, nil
}

// FromEnv builds a DatabaseConfig from GLSP_DB_* variables.
func FromEnv(getenv func(string) string) (DatabaseConfig, error) {
	backend := BackendPostgreSQL
	if v := getenv("GLSP_DB_BACKEND"); v != "" {
		b, err := ParseBackendType(v)
		if err != nil {
			return DatabaseConfig{}, err
		}
		backend = b
	}
	c := presetFor(backend)
	if err := applyDatabaseEnv(&c, getenv); err != nil {
		return DatabaseConfig{}, err
	}
	if err := c.Validate(); err != nil {
		return DatabaseConfig{}, err
	}
	return c, nil
}

func applyDatabaseEnv(c *DatabaseConfig, getenv func(string) string) error {
	if v := getenv("GLSP_DB_BACKEND"); v != "" {
		b, err := ParseBackendType(v)
		if err != nil {
			return err
		}
		c.Backend = b
	}
	if v := getenv("GLSP_DB_HOST"); v != "" {
		c.Connection.Host = v
	}
	if v := getenv("GLSP_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("%w: invalid GLSP_DB_PORT %q", domain.ErrConfiguration, v)
		}
		c.Connection.Port = port
	}
	if v := getenv("GLSP_DB_NAME"); v != "" {
		c.Connection.Database = v
	}
	if v := getenv("GLSP_DB_USER"); v != "" {
		c.Connection.Username = v
	}
	if v := getenv("GLSP_DB_PASSWORD"); v != "" {
		c.Connection.Password = v
	}
	if v := getenv("GLSP_DB_SSL"); v != "" {
		c.Connection.SSL.Enabled = strings.EqualFold(v, "true")
	}
	return nil
}
