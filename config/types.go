// Package config provides configuration management for esgo hosts
package config

import (
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Event store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// State store drivers. StateDriverSQL keeps snapshots next to the events.
const (
	StateDriverSQL   = "sql"
	StateDriverRedis = "redis"
	StateDriverS3    = "s3"
)

// Config represents the complete esgo configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Entity runtime configuration
	Entity EntityConfig `yaml:"entity" json:"entity"`

	// Event and state store configuration
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Metrics export configuration
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// Custom configurations (for user-defined components)
	Custom map[string]any `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Graceful shutdown budget
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Include source file and line
	AddSource bool `yaml:"add_source" json:"add_source"`

	// Fields to include in every record
	Fields map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// EntityConfig contains entity runtime settings
type EntityConfig struct {
	// Versions between snapshots
	SnapshotInterval uint64 `yaml:"snapshot_interval" json:"snapshot_interval"`

	// Events fetched per catch-up page
	CatchUpPageSize int `yaml:"catch_up_page_size" json:"catch_up_page_size"`

	// Queued turns per entity
	MailboxSize int `yaml:"mailbox_size" json:"mailbox_size"`

	// Bound on a single turn
	ProcessTimeout time.Duration `yaml:"process_timeout" json:"process_timeout"`

	// Idle time before an entity is passivated; zero keeps entities resident
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Maximum resident entities; zero means unbounded
	MaxEntities int `yaml:"max_entities" json:"max_entities"`
}

// StorageConfig selects and configures the event and state stores
type StorageConfig struct {
	// Event store driver (memory, sqlite, postgres)
	Driver string `yaml:"driver" json:"driver"`

	// State store driver (sql, redis, s3); sql follows Driver
	StateDriver string `yaml:"state_driver" json:"state_driver"`

	// Payload and snapshot serializer (json, cbor)
	Serializer string `yaml:"serializer" json:"serializer"`

	SQLite   SQLiteConfig   `yaml:"sqlite" json:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	S3       S3Config       `yaml:"s3" json:"s3"`
}

// SQLiteConfig contains embedded database settings
type SQLiteConfig struct {
	// Database file path
	Path string `yaml:"path" json:"path"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Connection string
	DSN string `yaml:"dsn" json:"dsn"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// S3Config contains object storage settings
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// TelemetryConfig contains metrics export settings
type TelemetryConfig struct {
	// Export metrics over OTLP
	Enabled bool `yaml:"enabled" json:"enabled"`

	// service.name resource attribute
	ServiceName string `yaml:"service_name" json:"service_name"`

	// OTLP gRPC collector endpoint (host:port)
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`

	// Disable TLS towards the collector
	Insecure bool `yaml:"insecure" json:"insecure"`

	// Export interval
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:            "esgo-app",
			Version:         "1.0.0",
			Environment:     EnvDevelopment,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
		},
		Entity: EntityConfig{
			SnapshotInterval: 100,
			CatchUpPageSize:  1000,
			MailboxSize:      1000,
			ProcessTimeout:   30 * time.Second,
			IdleTimeout:      10 * time.Minute,
			MaxEntities:      0,
		},
		Storage: StorageConfig{
			Driver:      DriverSQLite,
			StateDriver: StateDriverSQL,
			Serializer:  "json",
			SQLite: SQLiteConfig{
				Path: "esgo.db",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "esgo:state:",
			},
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "esgo/states/",
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "esgo-app",
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
			Interval:     15 * time.Second,
		},
		Custom: make(map[string]any),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	// Validate entity config
	if c.Entity.SnapshotInterval == 0 {
		return ErrInvalidSnapshotInterval
	}
	if c.Entity.CatchUpPageSize <= 0 {
		return ErrInvalidPageSize
	}
	if c.Entity.MailboxSize <= 0 {
		return ErrInvalidMailboxSize
	}
	if c.Entity.MaxEntities < 0 || c.Entity.IdleTimeout < 0 || c.Entity.ProcessTimeout < 0 {
		return ErrInvalidEntityLimits
	}

	// Validate storage config
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return ErrMissingStorageSettings
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return ErrMissingStorageSettings
		}
	default:
		return ErrInvalidStorageDriver
	}
	switch c.Storage.StateDriver {
	case StateDriverSQL:
	case StateDriverRedis:
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			return ErrMissingStorageSettings
		}
	case StateDriverS3:
		if strings.TrimSpace(c.Storage.S3.Bucket) == "" {
			return ErrMissingStorageSettings
		}
	default:
		return ErrInvalidStorageDriver
	}
	switch c.Storage.Serializer {
	case "json", "cbor":
	default:
		return ErrInvalidSerializer
	}

	// Validate telemetry config
	if c.Telemetry.Enabled && (c.Telemetry.OTLPEndpoint == "" || c.Telemetry.Interval <= 0) {
		return ErrInvalidTelemetry
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// ServiceName returns the name reported to telemetry
func (c *Config) ServiceName() string {
	if c.Telemetry.ServiceName != "" {
		return c.Telemetry.ServiceName
	}
	return c.App.Name
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.Log.Level == LogLevelDebug
}
