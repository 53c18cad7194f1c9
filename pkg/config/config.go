// Package config loads the host configuration from a YAML file and AEGIS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wehubfusion/Aegis/internal/tracing"
	"github.com/wehubfusion/Aegis/pkg/bundle"
	"github.com/wehubfusion/Aegis/pkg/sandbox"
)

// EnvPrefix prefixes every environment override, e.g. AEGIS_SANDBOX_TIMEOUT
const EnvPrefix = "AEGIS"

// Config is the complete host configuration
type Config struct {
	Development bool
	Log         *Log
	Sandbox     sandbox.Config
	RateLimit   *RateLimit
	Guard       *Guard
	Loader      *Loader
	Bundle      *Bundle
	NATS        *NATS
	Sentry      *Sentry
	Tracing     tracing.Config
	Viper       *viper.Viper
}

// Log holds logger settings
type Log struct {
	Level  string
	Format string
}

// RateLimit bounds transform calls per widget
type RateLimit struct {
	MaxOps int
	Window time.Duration
}

// Guard holds payload size limits in bytes
type Guard struct {
	MaxDataBytes   int
	MaxOutputBytes int
}

// Loader holds the per-widget circuit breaker settings
type Loader struct {
	FailureThreshold int64
	ResetTimeout     time.Duration
}

// Bundle configures where widget bundles may be fetched from
type Bundle struct {
	Roots                []string
	MaxBytes             int64
	BlobConnectionString string
	BlobContainer        string
}

// NATS configures lifecycle event publishing. An empty URL disables it.
type NATS struct {
	URL           string
	SubjectPrefix string
}

// Sentry configures error reporting. An empty DSN disables it.
type Sentry struct {
	DSN         string
	Environment string
	Release     string
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	cfg, err := load(newViper())
	if err != nil {
		// defaults alone always validate
		panic(err)
	}
	return cfg
}

// Load reads configPath (optional) and applies environment overrides on top of defaults
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("development", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sandbox.timeout", 5*time.Second)
	v.SetDefault("sandbox.max_call_stack_size", 256)
	v.SetDefault("sandbox.max_concurrent", 0)
	v.SetDefault("sandbox.max_console_entries", 100)

	v.SetDefault("rate_limit.max_ops", 100)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("guard.max_data_bytes", 1<<20)
	v.SetDefault("guard.max_output_bytes", 1<<20)

	v.SetDefault("loader.failure_threshold", 5)
	v.SetDefault("loader.reset_timeout", 30*time.Second)

	v.SetDefault("bundle.roots", []string{})
	v.SetDefault("bundle.max_bytes", bundle.DefaultMaxBytes)
	v.SetDefault("bundle.blob_connection_string", "")
	v.SetDefault("bundle.blob_container", "widgets")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "aegis.widgets")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("sentry.release", "")

	t := tracing.DefaultConfig("aegis")
	v.SetDefault("tracing.enabled", t.Enabled)
	v.SetDefault("tracing.service_name", t.ServiceName)
	v.SetDefault("tracing.service_version", t.ServiceVersion)
	v.SetDefault("tracing.environment", t.Environment)
	v.SetDefault("tracing.otlp_endpoint", t.OTLPEndpoint)
	v.SetDefault("tracing.insecure", t.Insecure)
	v.SetDefault("tracing.sample_ratio", t.SampleRatio)
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Development: v.GetBool("development"),
		Log:         getLogConfig(v),
		Sandbox:     getSandboxConfig(v),
		RateLimit:   getRateLimitConfig(v),
		Guard:       getGuardConfig(v),
		Loader:      getLoaderConfig(v),
		Bundle:      getBundleConfig(v),
		NATS:        getNATSConfig(v),
		Sentry:      getSentryConfig(v),
		Tracing:     getTracingConfig(v),
		Viper:       v,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getLogConfig(v *viper.Viper) *Log {
	return &Log{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}
}

func getSandboxConfig(v *viper.Viper) sandbox.Config {
	cfg := sandbox.Config{
		Timeout:           v.GetDuration("sandbox.timeout"),
		MaxCallStackSize:  v.GetInt("sandbox.max_call_stack_size"),
		MaxConcurrent:     v.GetInt("sandbox.max_concurrent"),
		MaxConsoleEntries: v.GetInt("sandbox.max_console_entries"),
	}
	cfg.ApplyDefaults()
	return cfg
}

func getRateLimitConfig(v *viper.Viper) *RateLimit {
	return &RateLimit{
		MaxOps: v.GetInt("rate_limit.max_ops"),
		Window: v.GetDuration("rate_limit.window"),
	}
}

func getGuardConfig(v *viper.Viper) *Guard {
	return &Guard{
		MaxDataBytes:   v.GetInt("guard.max_data_bytes"),
		MaxOutputBytes: v.GetInt("guard.max_output_bytes"),
	}
}

func getLoaderConfig(v *viper.Viper) *Loader {
	return &Loader{
		FailureThreshold: v.GetInt64("loader.failure_threshold"),
		ResetTimeout:     v.GetDuration("loader.reset_timeout"),
	}
}

func getBundleConfig(v *viper.Viper) *Bundle {
	return &Bundle{
		Roots:                v.GetStringSlice("bundle.roots"),
		MaxBytes:             v.GetInt64("bundle.max_bytes"),
		BlobConnectionString: v.GetString("bundle.blob_connection_string"),
		BlobContainer:        v.GetString("bundle.blob_container"),
	}
}

func getNATSConfig(v *viper.Viper) *NATS {
	return &NATS{
		URL:           v.GetString("nats.url"),
		SubjectPrefix: v.GetString("nats.subject_prefix"),
	}
}

func getSentryConfig(v *viper.Viper) *Sentry {
	return &Sentry{
		DSN:         v.GetString("sentry.dsn"),
		Environment: v.GetString("sentry.environment"),
		Release:     v.GetString("sentry.release"),
	}
}

func getTracingConfig(v *viper.Viper) tracing.Config {
	return tracing.Config{
		Enabled:        v.GetBool("tracing.enabled"),
		ServiceName:    v.GetString("tracing.service_name"),
		ServiceVersion: v.GetString("tracing.service_version"),
		Environment:    v.GetString("tracing.environment"),
		OTLPEndpoint:   v.GetString("tracing.otlp_endpoint"),
		Insecure:       v.GetBool("tracing.insecure"),
		SampleRatio:    v.GetFloat64("tracing.sample_ratio"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if err := c.Sandbox.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sandbox: %w", err))
	}
	if c.RateLimit.MaxOps <= 0 {
		errs = append(errs, errors.New("rate_limit.max_ops must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.Guard.MaxDataBytes <= 0 || c.Guard.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("guard limits must be positive"))
	}
	if c.Loader.FailureThreshold <= 0 {
		errs = append(errs, errors.New("loader.failure_threshold must be positive"))
	}
	if c.Loader.ResetTimeout <= 0 {
		errs = append(errs, errors.New("loader.reset_timeout must be positive"))
	}
	if c.Bundle.MaxBytes <= 0 {
		errs = append(errs, errors.New("bundle.max_bytes must be positive"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be between 0 and 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
