// Package config loads executor settings from YAML, a .env file and
// STEPGRAPH_* environment variables, and builds the logger, metrics, tracer
// provider, run store and chat models they describe.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STEPGRAPH_"

// Config is the top-level configuration file.
type Config struct {
	Executor  ExecutorConfig   `yaml:"executor"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing"`
	Store     StoreConfig      `yaml:"store"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ExecutorConfig maps onto graph executor options.
type ExecutorConfig struct {
	StepTimeout       time.Duration `yaml:"step_timeout"`
	FanOutConcurrency int           `yaml:"fanout_concurrency"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig enables Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig enables OpenTelemetry spans for executor events.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// StoreConfig selects where finished runs are recorded.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "", memory, sqlite or mysql
	DSN    string `yaml:"dsn"`    // file path for sqlite, DSN for mysql
}

// ProviderConfig describes one chat model.
type ProviderConfig struct {
	Name    string `yaml:"name"` // openai, anthropic or google
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "stepgraph"},
		Tracing: TracingConfig{ServiceName: "stepgraph"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), then environment overrides. envFiles are loaded into the
// process environment first without overriding variables already set; with
// none given, ./.env is loaded if present.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := lookup("STEP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSTEP_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Executor.StepTimeout = d
	}
	if v, ok := lookup("FANOUT_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sFANOUT_CONCURRENCY: %w", EnvPrefix, err)
		}
		c.Executor.FanOutConcurrency = n
	}
	if v, ok := lookup("METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		c.Metrics.Enabled = b
	}
	if v, ok := lookup("TRACING_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sTRACING_ENABLED: %w", EnvPrefix, err)
		}
		c.Tracing.Enabled = b
	}
	if v, ok := lookup("STORE_DRIVER"); ok {
		c.Store.Driver = v
	}
	if v, ok := lookup("STORE_DSN"); ok {
		c.Store.DSN = v
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey == "" {
			p.APIKey = os.Getenv(apiKeyEnv(p.Name))
		}
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

// apiKeyEnv names the conventional API key variable for a provider.
func apiKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	}
	return EnvPrefix + strings.ToUpper(provider) + "_API_KEY"
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Executor.StepTimeout < 0 {
		errs = append(errs, errors.New("executor.step_timeout must not be negative"))
	}
	if c.Executor.FanOutConcurrency < 0 {
		errs = append(errs, errors.New("executor.fanout_concurrency must not be negative"))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory, sqlite or mysql", c.Store.Driver))
	}
	seen := map[string]bool{}
	for i, p := range c.Providers {
		switch p.Name {
		case "openai", "anthropic", "google":
		default:
			errs = append(errs, fmt.Errorf("providers[%d]: unknown provider %q", i, p.Name))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate provider %q", i, p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}
