package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds concurrency sizing for sandbox executions
type Config struct {
	MaxConcurrent int
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection.
//
//	AEGIS_MAX_CONCURRENT           absolute cap on concurrent sandbox executions
//	AEGIS_CONCURRENCY_MULTIPLIER   cap = effective CPUs * multiplier
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if maxConcurrent := getEnvInt("AEGIS_MAX_CONCURRENT", 0); maxConcurrent > 0 {
		config.MaxConcurrent = maxConcurrent
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("AEGIS_CONCURRENCY_MULTIPLIER", 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return config
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment.
// Scripts are CPU bound, so the multiplier stays small.
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus
	}
	return cpus * 2
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
