package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/gatelink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const fullConfig = `
gateway:
  url: wss://gateway.example.com/ws
  authToken: secret
  codec: msgpack
  clientName: companion
  clientVersion: 1.2.3
  dialTimeout: 5s
  callTimeout: 30s
  pingInterval: 45s
  reconnectPolicy: wait
  backoff:
    initial: 500ms
    max: 1m
    multiplier: 1.5
idempotency:
  retention: 2m
  redisUrl: redis://localhost:6379/0
  prefix: "companion:idem"
events:
  buffer: 128
  policy: block
telemetry:
  otlpUrl: https://otlp.example.com
  authToken: tel-secret
logLevel: debug
`

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "wss://gateway.example.com/ws", cfg.Gateway.URL)
	assert.Equal(t, "msgpack", cfg.Gateway.Codec)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.IdempotencyRetention())
	assert.Equal(t, transport.Block, cfg.EventPolicy())

	conn, err := cfg.ConnConfig()
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example.com/ws", conn.URL)
	assert.Equal(t, "secret", conn.AuthToken)
	assert.Equal(t, "msgpack", conn.Codec.Name())
	assert.Equal(t, "companion", conn.ClientName)
	assert.Equal(t, 5*time.Second, conn.DialTimeout)
	assert.Equal(t, 30*time.Second, conn.CallTimeout)
	assert.Equal(t, 45*time.Second, conn.PingInterval)
	assert.Equal(t, transport.WaitForReconnect, conn.ReconnectPolicy)
	assert.Equal(t, 500*time.Millisecond, conn.Backoff.Initial)
	assert.Equal(t, time.Minute, conn.Backoff.Max)
	assert.Equal(t, 1.5, conn.Backoff.Multiplier)
	assert.True(t, conn.Backoff.Jitter)
}

func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateway:\n  url: ws://localhost:9500\n"))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.IdempotencyRetention())
	assert.Equal(t, transport.DropNewest, cfg.EventPolicy())

	conn, err := cfg.ConnConfig()
	require.NoError(t, err)
	assert.Equal(t, "json", conn.Codec.Name())
	assert.Equal(t, transport.FailFast, conn.ReconnectPolicy)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"missing url": "gateway: {}\n",
		"bad codec":   "gateway:\n  url: ws://x\n  codec: protobuf\n",
		"bad policy":  "gateway:\n  url: ws://x\n  reconnectPolicy: sometimes\n",
		"bad events":  "gateway:\n  url: ws://x\nevents:\n  policy: spill\n",
		"bad timeout": "gateway:\n  url: ws://x\n  callTimeout: fortnight\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestHumanDurations(t *testing.T) {
	// str2duration accepts day units plain time.ParseDuration rejects.
	cfg, err := Load(writeConfig(t, "gateway:\n  url: ws://x\nidempotency:\n  retention: 1d\n"))
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyRetention())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATELINK_GATEWAY_URL", "ws://override:9500")
	t.Setenv("GATELINK_AUTH_TOKEN", "env-secret")
	t.Setenv("GATELINK_REDIS_URL", "redis://override:6379")
	t.Setenv("GATELINK_OTLP_URL", "https://otlp-override")

	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)
	assert.Equal(t, "ws://override:9500", cfg.Gateway.URL)
	assert.Equal(t, "env-secret", cfg.Gateway.AuthToken)
	assert.Equal(t, "redis://override:6379", cfg.Idempotency.RedisURL)
	assert.Equal(t, "https://otlp-override", cfg.Telemetry.OTLPURL)
}
