package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/friendrelay/friendrelay/internal/cache"

// Instrumented wraps a TokenCache with metrics and span attributes for each
// operation.
type Instrumented[T any] struct {
	wrapped    TokenCache[T]
	cacheType  string
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewInstrumented creates an instrumented cache wrapper using the global
// meter provider.
func NewInstrumented[T any](cache TokenCache[T], cacheType string) *Instrumented[T] {
	return NewInstrumentedWithMeter(cache, cacheType, otel.Meter(instrumentationName))
}

// NewInstrumentedWithMeter creates an instrumented cache wrapper that records
// to the supplied meter.
func NewInstrumentedWithMeter[T any](cache TokenCache[T], cacheType string, meter metric.Meter) *Instrumented[T] {
	operations, err := meter.Int64Counter(
		"cache.operations",
		metric.WithDescription("Total cache operations"),
	)
	if err != nil {
		otel.Handle(err)
	}

	duration, err := meter.Float64Histogram(
		"cache.operation.duration",
		metric.WithDescription("Cache operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Instrumented[T]{
		wrapped:    cache,
		cacheType:  cacheType,
		operations: operations,
		duration:   duration,
	}
}

// Get retrieves a record from the cache, recording hit, miss or error.
func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool, error) {
	start := time.Now()
	value, found, err := i.wrapped.Get(ctx, key)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, found, err
}

// Set stores a record in the cache.
func (i *Instrumented[T]) Set(ctx context.Context, key string, value T) error {
	start := time.Now()
	err := i.wrapped.Set(ctx, key, value)
	i.record(ctx, "set", outcome(err), time.Since(start))

	return err
}

// Invalidate removes a record from the cache.
func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) error {
	start := time.Now()
	err := i.wrapped.Invalidate(ctx, key)
	i.record(ctx, "invalidate", outcome(err), time.Since(start))

	return err
}

// Close releases any resources held by the cache.
func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented[T]) record(ctx context.Context, operation, status string, duration time.Duration) {
	if i.operations != nil {
		i.operations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
				attribute.String("cache.status", status),
			),
		)
	}

	if i.duration != nil {
		i.duration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
