package config

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Action      ActionConfig
	Cache       CacheConfig
	Credentials CredentialsConfig
	Issuer      IssuerConfig
	Observe     ObserveConfig
	Server      ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	// Every dispatch unit can be in flight against the same host at once, so
	// the per-host limit defaults to the dispatch cap.
	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=100"`
}

type CredentialsConfig struct {
	// File is a JSON (comments allowed) or YAML list of {uid, password}
	// entries.
	File string `env:"CREDENTIALS_FILE, default=accounts.json"`
}

// CacheConfig specifies where issued tokens are kept between requests.
type CacheConfig struct {
	// Type selects the cache implementation: "file" (default), "memory" or
	// "valkey".
	Type string `env:"CACHE_TYPE, default=file"`

	// Dir is the directory holding the token record when Type is "file".
	Dir string `env:"CACHE_DIR, default=.cache"`

	// TokenLifetime is how long a refreshed token set is considered valid.
	TokenLifetime time.Duration `env:"CACHE_TOKEN_LIFETIME, default=8h"`

	// Valkey holds distributed cache settings.
	Valkey ValkeyConfig
}

// ValkeyConfig specifies distributed cache configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	// Username for Valkey authentication.
	Username string `env:"VALKEY_USERNAME"`

	// Password for Valkey authentication.
	Password string `env:"VALKEY_PASSWORD"`
}

type IssuerConfig struct {
	URL     string        `env:"ISSUER_URL, required"`
	Timeout time.Duration `env:"ISSUER_TIMEOUT, default=25s"`
}

type ActionConfig struct {
	URL            string        `env:"ACTION_URL, required"`
	Timeout        time.Duration `env:"ACTION_TIMEOUT, default=25s"`
	ReleaseVersion string        `env:"ACTION_RELEASE_VERSION, default=OB51"`
	UnityVersion   string        `env:"ACTION_UNITY_VERSION, default=2018.4.11f1"`
	UserAgent      string        `env:"ACTION_USER_AGENT, default=Dalvik/2.1.0 (Linux; U; Android 9; SM-N975F Build/PI)"`
	SenderID       uint64        `env:"ACTION_SENDER_ID, default=8118133287"`

	// PayloadKey and PayloadIV are hex encoded AES parameters. When both are
	// empty the payload is sent unencrypted.
	PayloadKey string `env:"ACTION_PAYLOAD_KEY"`
	PayloadIV  string `env:"ACTION_PAYLOAD_IV"`
}

type ObserveConfig struct {
	SDKLogLevel               string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                   bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled            bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                      string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName               string `env:"OBSERVE_SERVICE_NAME, default=friendrelay"`
	TraceBatchTimeoutSeconds  int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled      bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`

	// HTTPConnectionTraceEnabled adds connection level (DNS, TLS, connect)
	// events to outbound spans.
	HTTPConnectionTraceEnabled bool `env:"OBSERVE_HTTP_CONNECTION_TRACE_ENABLED, default=false"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.Action.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid action configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.TokenLifetime <= 0 {
		return fmt.Errorf("CACHE_TOKEN_LIFETIME must be positive")
	}

	switch c.Type {
	case "file":
		if c.Dir == "" {
			return fmt.Errorf("CACHE_DIR required when CACHE_TYPE=file")
		}
	case "memory":
	case "valkey":
		if c.Valkey.Address == "" {
			return fmt.Errorf("VALKEY_ADDRESS required when CACHE_TYPE=valkey")
		}
	default:
		return fmt.Errorf("invalid CACHE_TYPE %q: must be one of file, memory or valkey", c.Type)
	}

	return nil
}

// Validate checks that the payload encryption settings are complete and
// decodable.
func (c *ActionConfig) Validate() error {
	if c.PayloadKey == "" && c.PayloadIV == "" {
		return nil
	}

	if c.PayloadKey == "" || c.PayloadIV == "" {
		return fmt.Errorf("ACTION_PAYLOAD_KEY and ACTION_PAYLOAD_IV must be set together")
	}

	key, err := hex.DecodeString(c.PayloadKey)
	if err != nil {
		return fmt.Errorf("ACTION_PAYLOAD_KEY is not valid hex: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("ACTION_PAYLOAD_KEY must decode to 16, 24 or 32 bytes, got %d", len(key))
	}

	iv, err := hex.DecodeString(c.PayloadIV)
	if err != nil {
		return fmt.Errorf("ACTION_PAYLOAD_IV is not valid hex: %w", err)
	}
	if len(iv) != 16 {
		return fmt.Errorf("ACTION_PAYLOAD_IV must decode to 16 bytes, got %d", len(iv))
	}

	return nil
}
