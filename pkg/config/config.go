// Package config provides service configuration and the persisted graph
// document schema, including normalization of the legacy edge/template
// form into field expressions.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the engine service.
type Config struct {
	Server ServerConfig `yaml:"server"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Engine    EngineConfig    `yaml:"engine"`
	Graphs    GraphsConfig    `yaml:"graphs"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP admin surface.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// TelemetryConfig holds configuration for OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// EngineConfig holds defaults applied to graph runs.
type EngineConfig struct {
	Concurrency int           `yaml:"concurrency"`
	NodeTimeout time.Duration `yaml:"node_timeout"`
	FailFast    bool          `yaml:"fail_fast"`
}

// GraphsConfig holds configuration for graph document loading.
type GraphsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Server: ServerConfig{
			Address: ":8090",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "draftnrun",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("DRAFTNRUN_SERVER_ADDR"); val != "" {
		cfg.Server.Address = val
	}

	if val := os.Getenv("DRAFTNRUN_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("DRAFTNRUN_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("DRAFTNRUN_SERVICE_NAME"); val != "" {
		cfg.Telemetry.ServiceName = val
	}

	if val := os.Getenv("DRAFTNRUN_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Engine.Concurrency = n
		}
	}
	if val := os.Getenv("DRAFTNRUN_NODE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.NodeTimeout = d
		}
	}
	if val := os.Getenv("DRAFTNRUN_FAIL_FAST"); val == "true" {
		cfg.Engine.FailFast = true
	}

	if val := os.Getenv("DRAFTNRUN_GRAPHS_DIR"); val != "" {
		cfg.Graphs.Dir = val
	}
	if val := os.Getenv("DRAFTNRUN_GRAPHS_WATCH"); val == "true" {
		cfg.Graphs.Watch = true
	}

	if val := os.Getenv("DRAFTNRUN_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("DRAFTNRUN_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration: %w", err)
	}

	if err := c.Graphs.Validate(); err != nil {
		return fmt.Errorf("graphs configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":8090"
	}
	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "draftnrun"
	}
	return nil
}

// Validate performs validation of engine configuration
func (c *EngineConfig) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Concurrency == 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if c.NodeTimeout < 0 {
		return fmt.Errorf("node_timeout must not be negative, got %s", c.NodeTimeout)
	}
	return nil
}

// Validate performs validation of graphs configuration
func (c *GraphsConfig) Validate() error {
	// The graphs directory is optional; graphs can be registered
	// programmatically or seeded through a memory store.
	if c.Watch && strings.TrimSpace(c.Dir) == "" {
		return fmt.Errorf("watch requires a graphs directory")
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	if format == "" {
		format = "text"
	}
	switch format {
	case "text", "json":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: text, json", c.Format)
	}

	return nil
}
