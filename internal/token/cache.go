package token

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/friendrelay/friendrelay/internal/cache"
	"github.com/rs/zerolog/log"
)

// DefaultLifetime is how long a refreshed token set stays usable.
const DefaultLifetime = 8 * time.Hour

// recordKey names the single record holding the token set.
const recordKey = "tokens"

// Set is the persisted record of the most recent successful refresh. It is
// always written whole: tokens and timestamp change together.
type Set struct {
	Tokens   []string  `json:"tokens"`
	IssuedAt time.Time `json:"issued_at"`
}

// Valid reports whether the set is well formed and younger than lifetime at
// now.
func (s Set) Valid(now time.Time, lifetime time.Duration) bool {
	if len(s.Tokens) == 0 || s.IssuedAt.IsZero() {
		return false
	}
	return now.Sub(s.IssuedAt) < lifetime
}

// Cache is an expiry-aware view over a single token set record.
type Cache struct {
	store    cache.TokenCache[Set]
	lifetime time.Duration
	now      func() time.Time
}

type CacheOption func(*Cache)

// WithClock replaces the wall clock used to stamp and age records.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a token cache over store. A non-positive lifetime selects
// DefaultLifetime.
func NewCache(store cache.TokenCache[Set], lifetime time.Duration, opts ...CacheOption) *Cache {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	c := &Cache{
		store:    store,
		lifetime: lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the cached tokens when a valid, unexpired record exists.
// Missing, unreadable, malformed and expired records are all reported as
// absent; read failures are logged.
func (c *Cache) Load(ctx context.Context) ([]string, bool) {
	set, found, err := c.store.Get(ctx, recordKey)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("token cache read failed, treating as empty")
		return nil, false
	}
	if !found {
		log.Ctx(ctx).Debug().Msg("token cache empty")
		return nil, false
	}

	if !set.Valid(c.now(), c.lifetime) {
		log.Ctx(ctx).Info().
			Time("issued_at", set.IssuedAt).
			Int("count", len(set.Tokens)).
			Dur("lifetime", c.lifetime).
			Msg("token cache expired or malformed")
		return nil, false
	}

	log.Ctx(ctx).Debug().
		Time("issued_at", set.IssuedAt).
		Int("count", len(set.Tokens)).
		Msg("token cache hit")

	return slices.Clone(set.Tokens), true
}

// Save replaces the cached record with tokens stamped at the current time.
// An empty token list is rejected so that an existing record is never
// replaced by an unusable one.
func (c *Cache) Save(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return errors.New("refusing to cache an empty token set")
	}

	set := Set{
		Tokens:   slices.Clone(tokens),
		IssuedAt: c.now().UTC(),
	}

	if err := c.store.Set(ctx, recordKey, set); err != nil {
		return fmt.Errorf("token cache write failed: %w", err)
	}

	log.Ctx(ctx).Info().Int("count", len(tokens)).Msg("token cache updated")
	return nil
}

// Status describes the stored record without applying the validity rules of
// Load.
type Status struct {
	Present   bool
	Count     int
	IssuedAt  time.Time
	ExpiresAt time.Time
	Valid     bool
}

// Inspect reports on the stored record. Unlike Load, a read failure is
// returned to the caller.
func (c *Cache) Inspect(ctx context.Context) (Status, error) {
	set, found, err := c.store.Get(ctx, recordKey)
	if err != nil {
		return Status{}, fmt.Errorf("token cache read failed: %w", err)
	}
	if !found {
		return Status{}, nil
	}

	return Status{
		Present:   true,
		Count:     len(set.Tokens),
		IssuedAt:  set.IssuedAt,
		ExpiresAt: set.IssuedAt.Add(c.lifetime),
		Valid:     set.Valid(c.now(), c.lifetime),
	}, nil
}
