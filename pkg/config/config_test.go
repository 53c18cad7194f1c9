package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.Development)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 256, cfg.Sandbox.MaxCallStackSize)
	assert.Positive(t, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, 100, cfg.RateLimit.MaxOps)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 1<<20, cfg.Guard.MaxDataBytes)
	assert.Equal(t, int64(5), cfg.Loader.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Loader.ResetTimeout)
	assert.Equal(t, "widgets", cfg.Bundle.BlobContainer)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "aegis.widgets", cfg.NATS.SubjectPrefix)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "aegis", cfg.Tracing.ServiceName)
	assert.NotNil(t, cfg.Viper)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
development: true
sandbox:
  timeout: 250ms
  max_concurrent: 3
rate_limit:
  max_ops: 3
  window: 1s
bundle:
  roots:
    - /srv/widgets
    - /opt/widgets
nats:
  url: nats://localhost:4222
tracing:
  enabled: true
  sample_ratio: 0.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Development)
	assert.Equal(t, 250*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, 3, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, 256, cfg.Sandbox.MaxCallStackSize)
	assert.Equal(t, 3, cfg.RateLimit.MaxOps)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"/srv/widgets", "/opt/widgets"}, cfg.Bundle.Roots)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.5, cfg.Tracing.SampleRatio)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AEGIS_RATE_LIMIT_MAX_OPS", "7")
	t.Setenv("AEGIS_SANDBOX_TIMEOUT", "2s")
	t.Setenv("AEGIS_SENTRY_DSN", "https://key@sentry.example.com/1")

	path := writeConfig(t, "rate_limit:\n  max_ops: 3\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.RateLimit.MaxOps)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "https://key@sentry.example.com/1", cfg.Sentry.DSN)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "zero max ops", content: "rate_limit:\n  max_ops: 0\n"},
		{name: "negative timeout", content: "sandbox:\n  timeout: -1s\n"},
		{name: "zero guard", content: "guard:\n  max_data_bytes: 0\n"},
		{name: "bad sample ratio", content: "tracing:\n  sample_ratio: 2\n"},
		{name: "zero breaker threshold", content: "loader:\n  failure_threshold: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 100, cfg.RateLimit.MaxOps)
}
