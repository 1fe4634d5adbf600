package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/friendrelay/friendrelay/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// NewFromConfig builds the backend named by cacheConfig.Type and wraps it
// with metrics.
//
// "file" keeps the record on disk until it is replaced. "memory" and
// "valkey" drop a record ttl after it was written; maxMemorySize bounds the
// number of records the memory backend holds.
func NewFromConfig[T any](
	ctx context.Context,
	cacheConfig config.CacheConfig,
	ttl time.Duration,
	maxMemorySize int,
) (TokenCache[T], error) {
	logger := log.Ctx(ctx).With().Str("cache_type", cacheConfig.Type).Logger()

	var (
		backend TokenCache[T]
		err     error
	)

	switch cacheConfig.Type {
	case "file":
		logger.Info().Str("dir", cacheConfig.Dir).Msg("initializing file cache")
		backend, err = NewFile[T](cacheConfig.Dir)

	case "memory":
		logger.Info().Int("max_records", maxMemorySize).Msg("initializing in-memory cache")
		backend, err = NewMemory[T](ttl, maxMemorySize)

	case "valkey":
		logger.Info().
			Str("address", cacheConfig.Valkey.Address).
			Bool("tls", cacheConfig.Valkey.TLS).
			Msg("initializing distributed cache")
		backend, err = newValkeyBackend[T](cacheConfig.Valkey, ttl)

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be one of \"file\", \"memory\" or \"valkey\"", cacheConfig.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("%s cache: %w", cacheConfig.Type, err)
	}

	return NewInstrumented(backend, cacheConfig.Type), nil
}

func newValkeyBackend[T any](cfg config.ValkeyConfig, ttl time.Duration) (*Distributed[T], error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required when cache type is valkey")
	}

	client, err := valkey.NewClient(valkeyClientOption(cfg))
	if err != nil {
		return nil, fmt.Errorf("connecting to valkey: %w", err)
	}

	distributed, err := NewDistributed[T](client, ttl)
	if err != nil {
		client.Close()
		return nil, err
	}
	return distributed, nil
}

// valkeyClientOption translates the service configuration into client
// options. Credentials are static for the life of the process.
func valkeyClientOption(cfg config.ValkeyConfig) valkey.ClientOption {
	opt := valkey.ClientOption{
		InitAddress: []string{cfg.Address},
		AuthCredentialsFn: func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
			return valkey.AuthCredentials{Username: cfg.Username, Password: cfg.Password}, nil
		},
	}
	if cfg.TLS {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt
}
