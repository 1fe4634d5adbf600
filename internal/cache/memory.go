package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory keeps records in process using otter. Records are lost on restart,
// so each new process refreshes its tokens on first use.
type Memory[T any] struct {
	cache *otter.Cache[string, T]
}

// NewMemory creates an in-memory cache holding at most maxSize records. The
// ttl runs from the most recent write, so replacing a record restarts its
// lifetime.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("memory cache ttl must be positive, got %s", ttl)
	}

	cache, err := otter.New(&otter.Options[string, T]{
		MaximumSize:      maxSize,
		StatsRecorder:    stats.NewCounter(),
		ExpiryCalculator: otter.ExpiryWriting[string, T](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}

	return &Memory[T]{cache: cache}, nil
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	value, ok := m.cache.GetIfPresent(key)
	return value, ok, nil
}

func (m *Memory[T]) Set(_ context.Context, key string, value T) error {
	m.cache.Set(key, value)
	return nil
}

func (m *Memory[T]) Invalidate(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

func (m *Memory[T]) Close() error {
	return nil
}
