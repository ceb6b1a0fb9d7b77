// Package config loads the file-based configuration for processes embedding
// the transport. The gateway endpoint arrives here already resolved; state
// and profile directory resolution belongs to the surrounding process.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/openclaw/gatelink/resilience"
	"github.com/openclaw/gatelink/transport"
	"github.com/openclaw/gatelink/wire"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration document.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Events      EventsConfig      `yaml:"events"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	LogLevel    string            `yaml:"logLevel"`
}

// GatewayConfig describes the connection to one gateway. Durations are
// human strings ("45s", "2m30s").
type GatewayConfig struct {
	URL             string        `yaml:"url"`
	AuthToken       string        `yaml:"authToken"`
	Codec           string        `yaml:"codec"`
	ClientName      string        `yaml:"clientName"`
	ClientVersion   string        `yaml:"clientVersion"`
	DialTimeout     string        `yaml:"dialTimeout"`
	CallTimeout     string        `yaml:"callTimeout"`
	PingInterval    string        `yaml:"pingInterval"`
	ReconnectPolicy string        `yaml:"reconnectPolicy"` // "fail_fast" or "wait"
	Backoff         BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Initial    string  `yaml:"initial"`
	Max        string  `yaml:"max"`
	Multiplier float64 `yaml:"multiplier"`
	NoJitter   bool    `yaml:"noJitter"`
}

// IdempotencyConfig tunes the completed-submission retention window. When
// RedisURL is set the window is shared with other processes through Redis.
type IdempotencyConfig struct {
	Retention string `yaml:"retention"`
	RedisURL  string `yaml:"redisUrl"`
	Prefix    string `yaml:"prefix"`
}

// EventsConfig tunes per-subscriber queues on the event feed.
type EventsConfig struct {
	Buffer int    `yaml:"buffer"`
	Policy string `yaml:"policy"` // "drop" or "block"
}

// TelemetryConfig points at an OTLP collector; empty URL disables export.
type TelemetryConfig struct {
	OTLPURL   string `yaml:"otlpUrl"`
	AuthToken string `yaml:"authToken"`
}

// Load reads and validates a config file, then applies GATELINK_*
// environment overrides.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GATELINK_GATEWAY_URL"); v != "" {
		c.Gateway.URL = v
	}
	if v := os.Getenv("GATELINK_AUTH_TOKEN"); v != "" {
		c.Gateway.AuthToken = v
	}
	if v := os.Getenv("GATELINK_REDIS_URL"); v != "" {
		c.Idempotency.RedisURL = v
	}
	if v := os.Getenv("GATELINK_OTLP_URL"); v != "" {
		c.Telemetry.OTLPURL = v
	}
}

// Validate checks everything that can fail before a connection is attempted.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if _, err := wire.CodecByName(c.Gateway.Codec); err != nil {
		return fmt.Errorf("gateway.codec: %w", err)
	}
	switch c.Gateway.ReconnectPolicy {
	case "", "fail_fast", "wait":
	default:
		return fmt.Errorf("gateway.reconnectPolicy must be \"fail_fast\" or \"wait\", got %q", c.Gateway.ReconnectPolicy)
	}
	switch c.Events.Policy {
	case "", "drop", "block":
	default:
		return fmt.Errorf("events.policy must be \"drop\" or \"block\", got %q", c.Events.Policy)
	}
	for name, val := range map[string]string{
		"gateway.dialTimeout":     c.Gateway.DialTimeout,
		"gateway.callTimeout":     c.Gateway.CallTimeout,
		"gateway.pingInterval":    c.Gateway.PingInterval,
		"gateway.backoff.initial": c.Gateway.Backoff.Initial,
		"gateway.backoff.max":     c.Gateway.Backoff.Max,
		"idempotency.retention":   c.Idempotency.Retention,
	} {
		if _, err := parseDuration(val); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func parseDuration(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	return str2duration.ParseDuration(val)
}

// ConnConfig resolves the gateway section into a transport ConnConfig. The
// caller supplies the logger.
func (c *Config) ConnConfig() (transport.ConnConfig, error) {
	codec, err := wire.CodecByName(c.Gateway.Codec)
	if err != nil {
		return transport.ConnConfig{}, err
	}
	dialTimeout, _ := parseDuration(c.Gateway.DialTimeout)
	callTimeout, _ := parseDuration(c.Gateway.CallTimeout)
	pingInterval, _ := parseDuration(c.Gateway.PingInterval)
	initial, _ := parseDuration(c.Gateway.Backoff.Initial)
	maxDelay, _ := parseDuration(c.Gateway.Backoff.Max)

	policy := transport.FailFast
	if c.Gateway.ReconnectPolicy == "wait" {
		policy = transport.WaitForReconnect
	}
	backoff := resilience.DefaultBackoffConfig()
	if initial > 0 {
		backoff.Initial = initial
	}
	if maxDelay > 0 {
		backoff.Max = maxDelay
	}
	if c.Gateway.Backoff.Multiplier > 0 {
		backoff.Multiplier = c.Gateway.Backoff.Multiplier
	}
	backoff.Jitter = !c.Gateway.Backoff.NoJitter

	return transport.ConnConfig{
		URL:             c.Gateway.URL,
		AuthToken:       c.Gateway.AuthToken,
		Codec:           codec,
		ClientName:      c.Gateway.ClientName,
		ClientVersion:   c.Gateway.ClientVersion,
		DialTimeout:     dialTimeout,
		CallTimeout:     callTimeout,
		PingInterval:    pingInterval,
		Backoff:         backoff,
		ReconnectPolicy: policy,
	}, nil
}

// IdempotencyRetention resolves the configured retention window, or zero for
// the transport default.
func (c *Config) IdempotencyRetention() time.Duration {
	d, _ := parseDuration(c.Idempotency.Retention)
	return d
}

// EventPolicy resolves the subscriber queue policy.
func (c *Config) EventPolicy() transport.SubscribePolicy {
	if c.Events.Policy == "block" {
		return transport.Block
	}
	return transport.DropNewest
}
