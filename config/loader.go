// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// DefaultEnvPrefix prefixes every environment override, e.g. ESGO_LOG_LEVEL.
const DefaultEnvPrefix = "ESGO"

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{
		".",
		"./config",
		"./configs",
		"/etc/esgo",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".esgo"))
	}
	return &Loader{
		searchPaths:   paths,
		envPrefix:     DefaultEnvPrefix,
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file. An empty filename
// yields the defaults with environment overrides applied.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.finish(l.defaults())
	}
	return l.loadFromFile(filename)
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader. Environment
// overrides and validation are not applied.
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	return l.parseConfig(data, format)
}

// AutoLoad automatically discovers and loads configuration. When no file is
// found the defaults are used.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.loadFromFile(configFile)
}

// FindConfigFile returns the first configuration file found in the search
// paths.
func (l *Loader) FindConfigFile() (string, error) {
	path, _, err := l.findConfigFile()
	return path, err
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"esgo.yaml", "esgo.yml",
		"config.yaml", "config.yml",
		"esgo.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err != nil {
				continue
			}
			format, err := formatOf(fullPath)
			if err != nil {
				continue
			}
			return fullPath, format, nil
		}
	}

	return "", "", ErrConfigFileNotFound
}

func formatOf(filename string) (ConfigFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadFromFile loads configuration from a file on top of the defaults
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return l.finish(config)
}

// finish applies environment overrides and validates.
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}
	return config, nil
}

// defaults returns a copy of the loader's default configuration.
func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	merged := *l.defaultConfig
	merged.Log.Fields = maps.Clone(l.defaultConfig.Log.Fields)
	merged.Custom = maps.Clone(l.defaultConfig.Custom)
	if merged.Custom == nil {
		merged.Custom = make(map[string]any)
	}
	return &merged
}

// parseConfig decodes data over a copy of the defaults, so keys absent from
// the document keep their default values.
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: yaml: %w", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: json: %w", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := envReader{prefix: l.envPrefix}

	// App configuration
	env.str("APP_NAME", &config.App.Name)
	env.str("APP_VERSION", &config.App.Version)
	if val, ok := env.lookup("APP_ENVIRONMENT"); ok {
		config.App.Environment = Environment(val)
	}
	env.boolean("APP_DEBUG", &config.App.Debug)
	env.duration("APP_SHUTDOWN_TIMEOUT", &config.App.ShutdownTimeout)

	// Log configuration
	if val, ok := env.lookup("LOG_LEVEL"); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	env.str("LOG_FORMAT", &config.Log.Format)
	env.str("LOG_OUTPUT", &config.Log.Output)
	env.boolean("LOG_ADD_SOURCE", &config.Log.AddSource)

	// Entity configuration
	if val, ok := env.lookup("ENTITY_SNAPSHOT_INTERVAL"); ok {
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			env.fail("ENTITY_SNAPSHOT_INTERVAL", err)
		} else {
			config.Entity.SnapshotInterval = n
		}
	}
	env.integer("ENTITY_CATCH_UP_PAGE_SIZE", &config.Entity.CatchUpPageSize)
	env.integer("ENTITY_MAILBOX_SIZE", &config.Entity.MailboxSize)
	env.duration("ENTITY_PROCESS_TIMEOUT", &config.Entity.ProcessTimeout)
	env.duration("ENTITY_IDLE_TIMEOUT", &config.Entity.IdleTimeout)
	env.integer("ENTITY_MAX_ENTITIES", &config.Entity.MaxEntities)

	// Storage configuration
	env.str("STORAGE_DRIVER", &config.Storage.Driver)
	env.str("STORAGE_STATE_DRIVER", &config.Storage.StateDriver)
	env.str("STORAGE_SERIALIZER", &config.Storage.Serializer)
	env.str("STORAGE_SQLITE_PATH", &config.Storage.SQLite.Path)
	env.str("STORAGE_POSTGRES_DSN", &config.Storage.Postgres.DSN)
	env.str("STORAGE_REDIS_ADDR", &config.Storage.Redis.Addr)
	env.str("STORAGE_REDIS_PASSWORD", &config.Storage.Redis.Password)
	env.integer("STORAGE_REDIS_DB", &config.Storage.Redis.DB)
	env.str("STORAGE_REDIS_PREFIX", &config.Storage.Redis.Prefix)
	env.str("STORAGE_S3_BUCKET", &config.Storage.S3.Bucket)
	env.str("STORAGE_S3_REGION", &config.Storage.S3.Region)
	env.str("STORAGE_S3_ENDPOINT", &config.Storage.S3.Endpoint)
	env.str("STORAGE_S3_PREFIX", &config.Storage.S3.Prefix)

	// Telemetry configuration
	env.boolean("TELEMETRY_ENABLED", &config.Telemetry.Enabled)
	env.str("TELEMETRY_SERVICE_NAME", &config.Telemetry.ServiceName)
	env.str("TELEMETRY_OTLP_ENDPOINT", &config.Telemetry.OTLPEndpoint)
	env.boolean("TELEMETRY_INSECURE", &config.Telemetry.Insecure)
	env.duration("TELEMETRY_INTERVAL", &config.Telemetry.Interval)

	return env.err
}

// envReader reads prefixed variables and keeps the first parse error.
type envReader struct {
	prefix string
	err    error
}

func (e *envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(e.prefix + "_" + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s_%s: %w", ErrEnvironmentVarError, e.prefix, name, err)
	}
}

func (e *envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if val, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(name string, dst *int) {
	if val, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if val, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
