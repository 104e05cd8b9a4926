package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the listener configuration
type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Source      ChainConfig      `mapstructure:"source"`
	Destination ChainConfig      `mapstructure:"destination"`
	Relayer     RelayerConfig    `mapstructure:"relayer"`
	Listener    ListenerConfig   `mapstructure:"listener"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains optional PostgreSQL settings for the
// transaction store. When disabled, the in-memory store is used.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ChainConfig contains per-chain query endpoint settings
type ChainConfig struct {
	Name           string `mapstructure:"name"`
	RPCURL         string `mapstructure:"rpc_url"`
	BridgeContract string `mapstructure:"bridge_contract"`
	// StartBlock of 0 means "current height at startup": blocks mined
	// before the process started are never scanned.
	StartBlock uint64 `mapstructure:"start_block"`
}

// RelayerConfig contains the outbound relay API settings
type RelayerConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CorrelationMode selects how destination completion events are matched
// against relayed transactions.
type CorrelationMode string

const (
	// CorrelationFIFO completes the oldest relayed transaction per
	// completion event, regardless of event content.
	CorrelationFIFO CorrelationMode = "fifo"
	// CorrelationKeyed matches the source tx hash echoed in the
	// completion event.
	CorrelationKeyed CorrelationMode = "keyed"
)

// ListenerConfig contains poll loop settings
type ListenerConfig struct {
	PollInterval    time.Duration   `mapstructure:"poll_interval"`
	ErrorBackoff    time.Duration   `mapstructure:"error_backoff"`
	CorrelationMode CorrelationMode `mapstructure:"correlation_mode"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Database defaults
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")

	// Chain defaults
	viper.SetDefault("source.name", "source")
	viper.SetDefault("source.start_block", 0)
	viper.SetDefault("destination.name", "destination")
	viper.SetDefault("destination.start_block", 0)

	// Relayer defaults
	viper.SetDefault("relayer.request_timeout", "10s")

	// Listener defaults
	viper.SetDefault("listener.poll_interval", "15s")
	viper.SetDefault("listener.error_backoff", "60s")
	viper.SetDefault("listener.correlation_mode", "fifo")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

// Validate checks that every setting the listener cannot run without is
// present. A failure here aborts startup before the poll loop begins.
func Validate(config *Config) error {
	if config.Source.RPCURL == "" {
		return fmt.Errorf("source.rpc_url is required")
	}
	if config.Destination.RPCURL == "" {
		return fmt.Errorf("destination.rpc_url is required")
	}
	if config.Source.BridgeContract == "" {
		return fmt.Errorf("source.bridge_contract is required")
	}
	if config.Destination.BridgeContract == "" {
		return fmt.Errorf("destination.bridge_contract is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when database.enabled is set")
	}
	switch config.Listener.CorrelationMode {
	case CorrelationFIFO, CorrelationKeyed:
	default:
		return fmt.Errorf("listener.correlation_mode must be %q or %q", CorrelationFIFO, CorrelationKeyed)
	}
	return nil
}
