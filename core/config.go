package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the instrumentation core reads at startup.
//
// Precedence, lowest to highest: DefaultConfig, config file (LoadFromFile),
// environment (LoadFromEnv), functional options.
type Config struct {
	ServiceName string `yaml:"service_name" json:"service_name" env:"DD_SERVICE"`
	Environment string `yaml:"environment" json:"environment" env:"DD_ENV"`

	Logging         LoggingConfig         `yaml:"logging" json:"logging"`
	Telemetry       TelemetryConfig       `yaml:"telemetry" json:"telemetry"`
	Instrumentation InstrumentationConfig `yaml:"instrumentation" json:"instrumentation"`
}

// LoggingConfig configures ProductionLogger
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"DD_TRACE_LOG_LEVEL" default:"INFO"`
	Format string `yaml:"format" json:"format" env:"DD_TRACE_LOG_FORMAT"`
}

// TelemetryConfig configures span export
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"DD_TELEMETRY_ENABLED" default:"true"`
	Exporter string `yaml:"exporter" json:"exporter" env:"DD_TELEMETRY_EXPORTER" default:"otlp"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	Insecure bool   `yaml:"insecure" json:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
}

// InstrumentationConfig controls which hooks are installed
type InstrumentationConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled" env:"DD_TRACE_ENABLED" default:"true"`
	Disabled []string `yaml:"disabled" json:"disabled" env:"DD_TRACE_DISABLED_INSTRUMENTATIONS"`
}

// Option is a functional option for configuring the instrumentation core.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "unnamed-service",
		Environment: "development",
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Exporter: ExporterOTLP,
			Endpoint: "localhost:4317",
			Insecure: true,
		},
		Instrumentation: InstrumentationConfig{
			Enabled: true,
		},
	}
}

// NewConfig builds a Config from defaults, the optional file named by
// DD_TRACE_CONFIG_FILE, the environment and finally opts.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile overlays values from a YAML file.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w: %v", path, ErrInvalidConfiguration, err)
	}
	return nil
}

// LoadFromEnv overlays values from environment variables.
// Returns an error if environment variables contain invalid values.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvService); v != "" {
		c.ServiceName = v
	} else if v := os.Getenv(EnvOTELServiceName); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv(EnvEnvironment); v != "" {
		c.Environment = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToUpper(v)
	}
	if os.Getenv(EnvDebug) == "true" {
		c.Logging.Level = "DEBUG"
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(EnvTelemetryEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvTelemetryEnabled, v, ErrInvalidConfiguration)
		}
		c.Telemetry.Enabled = b
	}
	if v := os.Getenv(EnvTelemetryExporter); v != "" {
		c.Telemetry.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv(EnvOTLPInsecure); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvOTLPInsecure, v, ErrInvalidConfiguration)
		}
		c.Telemetry.Insecure = b
	}

	if v := os.Getenv(EnvTraceEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvTraceEnabled, v, ErrInvalidConfiguration)
		}
		c.Instrumentation.Enabled = b
	}
	if v := os.Getenv(EnvDisabledHooks); v != "" {
		c.Instrumentation.Disabled = splitList(v)
	}
	return nil
}

// Validate checks the configuration for values the core cannot work with.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name: %w", ErrMissingConfiguration)
	}
	switch c.Telemetry.Exporter {
	case ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("unknown exporter %q: %w", c.Telemetry.Exporter, ErrInvalidConfiguration)
	}
	if c.Telemetry.Enabled && c.Telemetry.Exporter == ExporterOTLP && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("otlp endpoint: %w", ErrMissingConfiguration)
	}
	return nil
}

// HookDisabled reports whether the named hook is switched off.
func (c *Config) HookDisabled(name string) bool {
	if !c.Instrumentation.Enabled {
		return true
	}
	for _, d := range c.Instrumentation.Disabled {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// WithServiceName sets the service name
func WithServiceName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("service name cannot be empty: %w", ErrInvalidConfiguration)
		}
		c.ServiceName = name
		return nil
	}
}

// WithExporter selects the span exporter ("otlp", "stdout" or "none")
func WithExporter(exporter string) Option {
	return func(c *Config) error {
		c.Telemetry.Exporter = strings.ToLower(exporter)
		return nil
	}
}

// WithEndpoint sets the OTLP endpoint
func WithEndpoint(endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the log level
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = strings.ToUpper(level)
		return nil
	}
}

// WithDisabledHooks appends hook names to the skip list
func WithDisabledHooks(names ...string) Option {
	return func(c *Config) error {
		c.Instrumentation.Disabled = append(c.Instrumentation.Disabled, names...)
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
