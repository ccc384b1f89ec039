// Package config loads the settings of an Ariadne engine service. Values are
// resolved from built-in defaults, then an optional YAML file, then ARIADNE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wehubfusion/Ariadne/internal/tracing"
	"github.com/wehubfusion/Ariadne/pkg/concurrency"
	"github.com/wehubfusion/Ariadne/pkg/engine"
	"github.com/wehubfusion/Ariadne/pkg/messaging"
	"github.com/wehubfusion/Ariadne/pkg/script"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`
	Script  script.Config `yaml:"script"`
	Tracing TracingConfig `yaml:"tracing"`
	Sentry  SentryConfig  `yaml:"sentry"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type EngineConfig struct {
	MaxCascadeDepth int `yaml:"max_cascade_depth"`
	MaxSteps        int `yaml:"max_steps"`
}

// NATSConfig configures event publishing and the inbound bridge. An empty
// URL disables both.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	Token          string        `yaml:"token"`
	Stream         string        `yaml:"stream"`
	Prefix         string        `yaml:"prefix"`
	InboundSubject string        `yaml:"inbound_subject"`
	Durable        string        `yaml:"durable"`
	BatchSize      int           `yaml:"batch_size"`
	Workers        int           `yaml:"workers"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	PublishRetries int           `yaml:"publish_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// Enabled reports whether a NATS server is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

type TracingConfig struct {
	Enabled        bool `yaml:"enabled"`
	tracing.Config `yaml:",inline"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	sizing := concurrency.Detect()
	return Config{
		Log: LogConfig{Level: "info"},
		Engine: EngineConfig{
			MaxCascadeDepth: engine.DefaultMaxCascadeDepth,
			MaxSteps:        engine.DefaultMaxSteps,
		},
		Storage: StorageConfig{Backend: BackendMemory},
		NATS: NATSConfig{
			Name:           "ariadne-engine",
			Stream:         "ARIADNE_EVENTS",
			Prefix:         messaging.DefaultPrefix,
			InboundSubject: "ariadne.inbound.>",
			Durable:        "ariadne-engine",
			BatchSize:      10,
			Workers:        sizing.Workers,
			MaxConcurrent:  sizing.MaxConcurrent,
			PublishRetries: 3,
			RetryDelay:     time.Second,
		},
		Script:  script.DefaultConfig(),
		Tracing: TracingConfig{Config: tracing.DefaultConfig("ariadne")},
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("ARIADNE_LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvBool("ARIADNE_LOG_DEVELOPMENT", c.Log.Development)

	c.Engine.MaxCascadeDepth = getEnvInt("ARIADNE_MAX_CASCADE_DEPTH", c.Engine.MaxCascadeDepth)
	c.Engine.MaxSteps = getEnvInt("ARIADNE_MAX_STEPS", c.Engine.MaxSteps)

	c.Storage.Backend = Backend(strings.ToLower(getEnv("ARIADNE_STORAGE_BACKEND", string(c.Storage.Backend))))
	c.Storage.Path = getEnv("ARIADNE_STORAGE_PATH", c.Storage.Path)
	c.Storage.Azure.ConnectionString = getEnv("ARIADNE_AZURE_CONNECTION_STRING", c.Storage.Azure.ConnectionString)
	c.Storage.Azure.Container = getEnv("ARIADNE_AZURE_CONTAINER", c.Storage.Azure.Container)

	c.NATS.URL = getEnv("ARIADNE_NATS_URL", c.NATS.URL)
	c.NATS.Token = getEnv("ARIADNE_NATS_TOKEN", c.NATS.Token)
	c.NATS.Stream = getEnv("ARIADNE_NATS_STREAM", c.NATS.Stream)
	c.NATS.Prefix = getEnv("ARIADNE_EVENT_PREFIX", c.NATS.Prefix)
	c.NATS.InboundSubject = getEnv("ARIADNE_INBOUND_SUBJECT", c.NATS.InboundSubject)
	c.NATS.Workers = getEnvInt("ARIADNE_BRIDGE_WORKERS", c.NATS.Workers)
	c.NATS.MaxConcurrent = getEnvInt("ARIADNE_MAX_CONCURRENT", c.NATS.MaxConcurrent)

	c.Script.Timeout = getEnvDuration("ARIADNE_SCRIPT_TIMEOUT", c.Script.Timeout)
	c.Script.SecurityLevel = getEnv("ARIADNE_SCRIPT_SECURITY_LEVEL", c.Script.SecurityLevel)

	c.Tracing.Enabled = getEnvBool("ARIADNE_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.OTLPEndpoint = getEnv("ARIADNE_OTLP_ENDPOINT", c.Tracing.OTLPEndpoint)

	c.Sentry.DSN = getEnv("ARIADNE_SENTRY_DSN", c.Sentry.DSN)
	c.Sentry.Environment = getEnv("ARIADNE_SENTRY_ENVIRONMENT", c.Sentry.Environment)
}

// Validate fills in defaults for zeroed fields and reports every invalid
// setting at once.
func (c *Config) Validate() error {
	var errs error

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Engine.MaxCascadeDepth <= 0 {
		c.Engine.MaxCascadeDepth = engine.DefaultMaxCascadeDepth
	}
	if c.Engine.MaxSteps <= 0 {
		c.Engine.MaxSteps = engine.DefaultMaxSteps
	}
	errs = multierr.Append(errs, c.Storage.validate())

	sizing := concurrency.Detect().Override(c.NATS.Workers, c.NATS.MaxConcurrent)
	c.NATS.Workers, c.NATS.MaxConcurrent = sizing.Workers, sizing.MaxConcurrent
	if c.NATS.Enabled() {
		if c.NATS.Stream == "" {
			errs = multierr.Append(errs, errors.New("nats.stream cannot be empty"))
		}
		if c.NATS.InboundSubject != "" && strings.HasPrefix(c.NATS.InboundSubject, c.NATS.Prefix+".") {
			errs = multierr.Append(errs, fmt.Errorf("nats.inbound_subject %q overlaps the publish prefix %q", c.NATS.InboundSubject, c.NATS.Prefix))
		}
	}

	c.Script.ApplyDefaults()
	if err := c.Script.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("script: %w", err))
	}
	if c.Tracing.Enabled {
		errs = multierr.Append(errs, c.Tracing.Config.Validate())
	}
	return errs
}

// NewLogger builds the zap logger described by the log section.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
