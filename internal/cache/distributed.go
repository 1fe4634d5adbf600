package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// keyPrefix namespaces records so the service can share a Valkey database.
const keyPrefix = "friendrelay:"

// Distributed shares records between service instances through Valkey.
// Reads use server-assisted client-side caching: a record read once is
// served locally until Valkey reports it changed or the ttl runs out.
type Distributed[T any] struct {
	client valkey.Client
	ttl    time.Duration
}

// NewDistributed wraps client. Records written through it expire from
// Valkey after ttl, which must be at least a millisecond.
func NewDistributed[T any](client valkey.Client, ttl time.Duration) (*Distributed[T], error) {
	if ttl < time.Millisecond {
		return nil, fmt.Errorf("distributed cache ttl must be at least 1ms, got %s", ttl)
	}
	return &Distributed[T]{client: client, ttl: ttl}, nil
}

func (d *Distributed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var record T

	get := d.client.B().Get().Key(storageKey(key)).Cache()
	data, err := d.client.DoCache(ctx, get, d.ttl).AsBytes()
	switch {
	case valkey.IsValkeyNil(err):
		return record, false, nil
	case err != nil:
		return record, false, fmt.Errorf("valkey get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, &record); err != nil {
		return record, false, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return record, true, nil
}

func (d *Distributed[T]) Set(ctx context.Context, key string, record T) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s for cache: %w", key, err)
	}

	set := d.client.B().Set().
		Key(storageKey(key)).
		Value(valkey.BinaryString(data)).
		PxMilliseconds(d.ttl.Milliseconds()).
		Build()
	if err := d.client.Do(ctx, set).Error(); err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}

func (d *Distributed[T]) Invalidate(ctx context.Context, key string) error {
	del := d.client.B().Del().Key(storageKey(key)).Build()
	if err := d.client.Do(ctx, del).Error(); err != nil {
		return fmt.Errorf("valkey del %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (d *Distributed[T]) Close() error {
	d.client.Close()
	return nil
}

func storageKey(key string) string {
	return keyPrefix + key
}
