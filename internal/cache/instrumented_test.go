package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// mockCache is a mock implementation of TokenCache for testing.
type mockCache[T any] struct {
	getValue T
	getFound bool
	getError error
	setError error
	invError error
	closeErr error
	getCalls int
	setCalls int
	invCalls int
}

func (m *mockCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	m.getCalls++
	return m.getValue, m.getFound, m.getError
}

func (m *mockCache[T]) Set(ctx context.Context, key string, token T) error {
	m.setCalls++
	return m.setError
}

func (m *mockCache[T]) Invalidate(ctx context.Context, key string) error {
	m.invCalls++
	return m.invError
}

func (m *mockCache[T]) Close() error {
	return m.closeErr
}

func newTestInstrumented[T any](t *testing.T, wrapped TokenCache[T]) (*Instrumented[T], *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return NewInstrumentedWithMeter(wrapped, "test", provider.Meter("test")), reader
}

// operationCounts collects the cache.operations counter keyed by
// "operation/status".
func operationCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cache.operations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value(attribute.Key("cache.operation"))
				status, _ := dp.Attributes.Value(attribute.Key("cache.status"))
				counts[op.AsString()+"/"+status.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func TestInstrumented_Get(t *testing.T) {
	cases := []struct {
		name     string
		mock     *mockCache[string]
		expected string
	}{
		{
			name:     "hit",
			mock:     &mockCache[string]{getValue: "test-token", getFound: true},
			expected: "get/hit",
		},
		{
			name:     "miss",
			mock:     &mockCache[string]{},
			expected: "get/miss",
		},
		{
			name:     "error",
			mock:     &mockCache[string]{getError: errors.New("get error")},
			expected: "get/error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			instrumented, reader := newTestInstrumented[string](t, tc.mock)

			value, found, err := instrumented.Get(context.Background(), "test-key")

			assert.Equal(t, tc.mock.getValue, value)
			assert.Equal(t, tc.mock.getFound, found)
			assert.Equal(t, tc.mock.getError, err)
			assert.Equal(t, 1, tc.mock.getCalls)
			assert.Equal(t, map[string]int64{tc.expected: 1}, operationCounts(t, reader))
		})
	}
}

func TestInstrumented_Set(t *testing.T) {
	mock := &mockCache[string]{}
	instrumented, reader := newTestInstrumented[string](t, mock)

	require.NoError(t, instrumented.Set(context.Background(), "k", "v"))

	mock.setError = errors.New("set error")
	err := instrumented.Set(context.Background(), "k", "v")
	assert.Equal(t, mock.setError, err)

	assert.Equal(t, 2, mock.setCalls)
	assert.Equal(t, map[string]int64{"set/success": 1, "set/error": 1}, operationCounts(t, reader))
}

func TestInstrumented_Invalidate(t *testing.T) {
	expectedErr := errors.New("invalidate error")
	mock := &mockCache[string]{invError: expectedErr}
	instrumented, reader := newTestInstrumented[string](t, mock)

	err := instrumented.Invalidate(context.Background(), "test-key")

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 1, mock.invCalls)
	assert.Equal(t, map[string]int64{"invalidate/error": 1}, operationCounts(t, reader))
}

func TestInstrumented_Close(t *testing.T) {
	expectedErr := errors.New("close error")
	instrumented := NewInstrumented[string](&mockCache[string]{closeErr: expectedErr}, "memory")

	assert.Equal(t, "memory", instrumented.cacheType)
	assert.Equal(t, expectedErr, instrumented.Close())
}
