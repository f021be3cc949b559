package config

import (
	"strings"
	"time"

	"example.com/backstage/services/telemetry/internal/validation"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Environment    string        `mapstructure:"environment"`
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
	Server         ServerConfig  `mapstructure:"server"`
	Logging        LoggingConfig `mapstructure:"logging"`
	Sync           SyncConfig    `mapstructure:"sync"`
	Source         SourceConfig  `mapstructure:"source"`
	Catalog        CatalogConfig `mapstructure:"catalog"`
	History        HistoryConfig `mapstructure:"history"`
	Store          StoreConfig   `mapstructure:"store"`
	Redis          RedisConfig   `mapstructure:"redis"`
	Azure          AzureConfig   `mapstructure:"azure"`
	Elastic        ElasticConfig `mapstructure:"elastic"`
	Tracing        TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// SyncConfig holds telemetry synchronization configuration
type SyncConfig struct {
	SimulatorEndpoint string        `mapstructure:"simulator_endpoint"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	BatchSize         int           `mapstructure:"batch_size" validate:"gte=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// SourceConfig selects where telemetry is read from
type SourceConfig struct {
	Kind       string `mapstructure:"kind" validate:"oneof=http modbus"`
	ModbusFile string `mapstructure:"modbus_file"`
}

// CatalogConfig holds equipment catalog configuration
type CatalogConfig struct {
	Prefix    string `mapstructure:"prefix"`
	ModelFile string `mapstructure:"model_file"`
	SpecFile  string `mapstructure:"spec_file"`
}

// HistoryConfig holds history window configuration
type HistoryConfig struct {
	MaxPoints int `mapstructure:"max_points" validate:"gte=0"`
}

// StoreConfig selects the property persistence backend
type StoreConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=memory redis postgres sqlite"`
	Namespace string `mapstructure:"namespace"`
	DSN       string `mapstructure:"dsn"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AzureConfig holds Azure Service Bus configuration
type AzureConfig struct {
	QueueConnStr string `mapstructure:"queue_conn_str"`
	QueueName    string `mapstructure:"queue_name"`
}

// ElasticConfig holds Elasticsearch configuration
type ElasticConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Index    string `mapstructure:"index"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	LicenseKey     string `mapstructure:"license_key"`
	AppName        string `mapstructure:"app_name"`
	DistribTracing bool   `mapstructure:"distributed_tracing_enabled"`
}

// Store backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Telemetry source kinds
const (
	SourceHTTP   = "http"
	SourceModbus = "modbus"
)

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AddConfigPath(path)
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Try the YAML config first, then app.env
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			v.SetConfigName("app")
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				// defaults and environment still apply
				log.Warn().Err(err).Msg("No configuration file found")
			}
		} else {
			return Config{}, errors.Wrap(err, "error reading config file")
		}
	}

	v.SetEnvPrefix("TELEMETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the tagged fields, then the settings that depend on each other
func (c Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if c.Source.Kind == SourceHTTP && c.Sync.SimulatorEndpoint == "" {
		return errors.New("sync.simulator_endpoint is required for the http source")
	}
	if c.Source.Kind == SourceModbus && c.Source.ModbusFile == "" {
		return errors.New("source.modbus_file is required for the modbus source")
	}
	if (c.Store.Backend == BackendPostgres || c.Store.Backend == BackendSQLite) && c.Store.DSN == "" {
		return errors.Errorf("store.dsn is required for the %s backend", c.Store.Backend)
	}
	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Core settings
	v.SetDefault("environment", "development")
	v.SetDefault("server.address", "0.0.0.0:8080")
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("metrics_enabled", true)

	// Logging settings
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)

	// Sync settings
	v.SetDefault("sync.simulator_endpoint", "http://localhost:3001")
	v.SetDefault("sync.poll_interval", "15s")
	v.SetDefault("sync.max_retries", 0)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.request_timeout", "10s")

	// Source settings
	v.SetDefault("source.kind", SourceHTTP)
	v.SetDefault("source.modbus_file", "")

	// Catalog settings
	v.SetDefault("catalog.prefix", "VF")
	v.SetDefault("catalog.model_file", "config/model.yaml")
	v.SetDefault("catalog.spec_file", "")

	// History settings
	v.SetDefault("history.max_points", 100)

	// Store settings
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.namespace", "telemetry:")
	v.SetDefault("store.dsn", "")

	// Redis settings
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Azure settings
	v.SetDefault("azure.queue_conn_str", "")
	v.SetDefault("azure.queue_name", "telemetry-updates")

	// Elasticsearch settings
	v.SetDefault("elastic.enabled", false)
	v.SetDefault("elastic.url", "http://localhost:9200")
	v.SetDefault("elastic.username", "")
	v.SetDefault("elastic.password", "")
	v.SetDefault("elastic.index", "telemetry-history")

	// Tracing settings
	v.SetDefault("tracing.license_key", "")
	v.SetDefault("tracing.app_name", "Telemetry Service")
	v.SetDefault("tracing.distributed_tracing_enabled", true)
}
