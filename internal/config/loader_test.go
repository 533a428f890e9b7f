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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMinimalConfigGetsDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: courier-test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "courier-test", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 1000, cfg.Queue.MaxSize)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "alpha", cfg.Providers[0].Name)
	assert.Equal(t, 1, cfg.Providers[0].Priority)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: courier
  log_level: debug
state:
  path: /tmp/courier-test.db
api:
  listen: 127.0.0.1:9090
rate_limit:
  max_requests: 5
  window: 10s
retry:
  max_attempts: 2
  initial_delay: 100ms
  max_delay: 2s
  multiplier: 3.0
circuit_breaker:
  failure_threshold: 3
  recovery_timeout: 30s
queue:
  max_size: 50
  batch_size: 5
  processing_interval: 1s
  redrive_after: 2m
  worker_concurrency: 2
providers:
  - name: primary
    priority: 1
    success_rate: 0.9
    min_latency: 10ms
    max_latency: 20ms
  - name: backup
    priority: 2
    success_rate: 1.0
    healthy: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "127.0.0.1:9090", cfg.API.Listen)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 3.0, cfg.Retry.Multiplier)
	assert.Equal(t, int64(2), cfg.Queue.WorkerConcurrency)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "backup", cfg.Providers[1].Name)
	require.NotNil(t, cfg.Providers[1].Healthy)
	assert.False(t, *cfg.Providers[1].Healthy)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "providers: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("COURIER_TEST_KEY", "s3cret")
	path := writeConfig(t, `
api:
  auth:
    api_key: ${COURIER_TEST_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.API.Auth.APIKey)
}

func TestLoadUnresolvedAPIKeyEnvVar(t *testing.T) {
	path := writeConfig(t, `
api:
  auth:
    api_key: ${COURIER_DEFINITELY_UNSET_KEY}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COURIER_DEFINITELY_UNSET_KEY")
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "negative success rate",
			yaml:    "providers:\n  - name: p\n    success_rate: -0.1\n",
			wantErr: "success_rate",
		},
		{
			name:    "duplicate provider names",
			yaml:    "providers:\n  - name: p\n  - name: p\n",
			wantErr: "duplicate provider name",
		},
		{
			name:    "inverted latency range",
			yaml:    "providers:\n  - name: p\n    min_latency: 5s\n    max_latency: 1s\n",
			wantErr: "latency range",
		},
		{
			name:    "max delay below initial",
			yaml:    "retry:\n  initial_delay: 5s\n  max_delay: 1s\n",
			wantErr: "retry.max_delay",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
