// Package config loads the batch client configuration from defaults, an
// optional YAML file, an optional .env file and environment variables, in
// increasing order of precedence. Command line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/cnpj-batch-client/pkg/batch"
	"github.com/Sternrassler/cnpj-batch-client/pkg/logging"
	"github.com/Sternrassler/cnpj-batch-client/pkg/lookup"
	"github.com/Sternrassler/cnpj-batch-client/pkg/projector"
	"github.com/Sternrassler/cnpj-batch-client/pkg/ratelimit"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a run.
type Config struct {
	Lookup  LookupConfig  `yaml:"lookup"`
	Batch   BatchConfig   `yaml:"batch"`
	Report  ReportConfig  `yaml:"report"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LookupConfig configures the registry client.
type LookupConfig struct {
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxThrottleWait   time.Duration `yaml:"max_throttle_wait"`
}

// BatchConfig configures the scheduler pacing.
type BatchConfig struct {
	Size      int           `yaml:"size"`
	ItemDelay time.Duration `yaml:"item_delay"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// ReportConfig configures input, output and row layout.
type ReportConfig struct {
	Input            string   `yaml:"input"`
	Output           string   `yaml:"output"`
	Fields           []string `yaml:"fields"`
	Sentinel         string   `yaml:"sentinel"`
	CleanIdentifiers bool     `yaml:"clean_identifiers"`
}

// RedisConfig enables shared throttle state. An empty URL keeps state in memory.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures the optional Prometheus endpoint. Empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	lookupDefaults := lookup.DefaultConfig()
	batchDefaults := batch.DefaultConfig()

	return &Config{
		Lookup: LookupConfig{
			BaseURL:         lookupDefaults.BaseURL,
			UserAgent:       lookupDefaults.UserAgent,
			Timeout:         lookupDefaults.Timeout,
			MaxThrottleWait: ratelimit.DefaultMaxWait,
		},
		Batch: BatchConfig{
			Size:      batchDefaults.BatchSize,
			ItemDelay: batchDefaults.ItemDelay,
			Cooldown:  batchDefaults.BatchCooldown,
		},
		Report: ReportConfig{
			Input:    "cnpjs.txt",
			Output:   "resultados.txt",
			Fields:   append([]string(nil), projector.DefaultFields...),
			Sentinel: projector.DefaultSentinel,
		},
		Redis: RedisConfig{
			KeyPrefix: ratelimit.DefaultKeyPrefix,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
// Environment variables are applied on top of the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if cfg.Report.Sentinel == "" {
		cfg.Report.Sentinel = projector.DefaultSentinel
	}

	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not an
// error unless required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error

	c.Lookup.BaseURL = getEnv("CNPJ_BASE_URL", c.Lookup.BaseURL)
	c.Lookup.UserAgent = getEnv("USER_AGENT", c.Lookup.UserAgent)
	c.Lookup.Timeout = getEnvAsDuration("CNPJ_REQUEST_TIMEOUT", c.Lookup.Timeout, &errs)
	c.Lookup.RequestsPerMinute = getEnvAsInt("CNPJ_REQUESTS_PER_MINUTE", c.Lookup.RequestsPerMinute, &errs)
	c.Lookup.MaxThrottleWait = getEnvAsDuration("CNPJ_MAX_THROTTLE_WAIT", c.Lookup.MaxThrottleWait, &errs)

	c.Batch.Size = getEnvAsInt("CNPJ_BATCH_SIZE", c.Batch.Size, &errs)
	c.Batch.ItemDelay = getEnvAsDuration("CNPJ_ITEM_DELAY", c.Batch.ItemDelay, &errs)
	c.Batch.Cooldown = getEnvAsDuration("CNPJ_BATCH_COOLDOWN", c.Batch.Cooldown, &errs)

	c.Report.Input = getEnv("CNPJ_INPUT", c.Report.Input)
	c.Report.Output = getEnv("CNPJ_OUTPUT", c.Report.Output)
	if fields := os.Getenv("CNPJ_FIELDS"); fields != "" {
		c.Report.Fields = SplitFields(fields)
	}
	c.Report.Sentinel = getEnv("CNPJ_SENTINEL", c.Report.Sentinel)
	c.Report.CleanIdentifiers = getEnvAsBool("CNPJ_CLEAN_IDENTIFIERS", c.Report.CleanIdentifiers, &errs)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Pretty = getEnvAsBool("LOG_PRETTY", c.Logging.Pretty, &errs)

	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)

	return errors.Join(errs...)
}

// Validate checks the configuration before any network activity.
func (c *Config) Validate() error {
	if err := c.BatchConfig().Validate(); err != nil {
		return err
	}

	if c.Lookup.BaseURL == "" {
		return fmt.Errorf("lookup.base_url is required")
	}
	u, err := url.Parse(c.Lookup.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("lookup.base_url must be an absolute http(s) URL (got %q)", c.Lookup.BaseURL)
	}
	if c.Lookup.Timeout <= 0 {
		return fmt.Errorf("lookup.timeout must be > 0 (got %s)", c.Lookup.Timeout)
	}
	if c.Lookup.RequestsPerMinute < 0 {
		return fmt.Errorf("lookup.requests_per_minute must be >= 0 (got %d)", c.Lookup.RequestsPerMinute)
	}

	if len(c.Report.Fields) == 0 {
		return fmt.Errorf("report.fields must not be empty")
	}
	if c.Report.Input == "" {
		return fmt.Errorf("report.input is required")
	}
	if c.Report.Output == "" {
		return fmt.Errorf("report.output is required")
	}

	if !logging.ValidLevel(logging.LogLevel(c.Logging.Level)) {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error, disabled", c.Logging.Level)
	}

	return nil
}

// BatchConfig converts to the scheduler configuration.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		BatchSize:     c.Batch.Size,
		ItemDelay:     c.Batch.ItemDelay,
		BatchCooldown: c.Batch.Cooldown,
	}
}

// LookupConfig converts to the lookup client configuration. Throttle and
// Notifier are wired by the caller.
func (c *Config) LookupConfig() lookup.Config {
	return lookup.Config{
		BaseURL:           c.Lookup.BaseURL,
		UserAgent:         c.Lookup.UserAgent,
		Timeout:           c.Lookup.Timeout,
		RequestsPerMinute: c.Lookup.RequestsPerMinute,
	}
}

// FieldSpec returns the configured row layout.
func (c *Config) FieldSpec() projector.FieldSpec {
	return projector.FieldSpec(c.Report.Fields)
}

// SplitFields parses a comma separated field list, dropping empty entries.
func SplitFields(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return boolValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
