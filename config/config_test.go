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
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
log_level: debug
webhook_key: wh_1
destinations_file: /etc/relay/destinations.yaml
poll_interval: 10s
auto_pause_timeout: 2m
remote:
  mode: postgres
  dsn: postgres://relay@localhost/relay?sslmode=disable
push:
  mode: pgnotify
redis:
  addr: localhost:6379
  db: 2
  ttl: 1h
observability:
  service_name: relay-test
  tracing_url: localhost:4318
`)

	cfg, err := GetConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "wh_1", cfg.WebhookKey)
	assert.Equal(t, "/etc/relay/destinations.yaml", cfg.DestinationsFile)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.AutoPauseTimeout)
	assert.Equal(t, "postgres", cfg.Remote.Mode)
	assert.Equal(t, "postgres://relay@localhost/relay?sslmode=disable", cfg.Remote.DSN)
	assert.Equal(t, "pgnotify", cfg.Push.Mode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "relay-test", cfg.Observability.ServiceName)
	assert.Equal(t, "localhost:4318", cfg.Observability.TracingURL)
}

func TestGetConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://api.example.com
`)

	cfg, err := GetConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "destinations.yaml", cfg.DestinationsFile)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.AutoPauseTimeout)
	assert.Equal(t, "rest", cfg.Remote.Mode)
	assert.Equal(t, "none", cfg.Push.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "webhook-relay", cfg.Observability.ServiceName)
}

func TestGetConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
remote:
  base_url: https://api.example.com
`)
	t.Setenv("RELAY_PORT", "7070")
	t.Setenv("RELAY_REMOTE_TOKEN", "secret-token")
	t.Setenv("RELAY_PUSH_MODE", "ws")
	t.Setenv("RELAY_PUSH_URL", "wss://push.example.com/v1/realtime")
	t.Setenv("RELAY_POLL_INTERVAL", "3s")

	cfg, err := GetConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "secret-token", cfg.Remote.Token)
	assert.Equal(t, "ws", cfg.Push.Mode)
	assert.Equal(t, "wss://push.example.com/v1/realtime", cfg.Push.URL)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
}

func TestGetConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "rest without base url",
			content: "remote:\n  mode: rest\n",
		},
		{
			name:    "postgres without dsn",
			content: "remote:\n  mode: postgres\n",
		},
		{
			name:    "unknown remote mode",
			content: "remote:\n  mode: grpc\n",
		},
		{
			name:    "ws push without url",
			content: "remote:\n  base_url: https://api.example.com\npush:\n  mode: ws\n",
		},
		{
			name:    "pgnotify push without dsn",
			content: "remote:\n  base_url: https://api.example.com\npush:\n  mode: pgnotify\n",
		},
		{
			name:    "unknown log level",
			content: "log_level: loud\nremote:\n  base_url: https://api.example.com\n",
		},
		{
			name:    "non numeric port",
			content: "port: http\nremote:\n  base_url: https://api.example.com\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GetConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestGetConfig_MissingExplicitFile(t *testing.T) {
	_, err := GetConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
