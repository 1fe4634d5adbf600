package action_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendrelay/friendrelay/internal/action"
	"github.com/friendrelay/friendrelay/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func tokenList(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%d", i)
	}
	return tokens
}

func TestDispatcher_CountsSuccessAndFailure(t *testing.T) {
	performer := action.PerformerFunc(func(_ context.Context, target, token string) error {
		var i int
		_, _ = fmt.Sscanf(token, "tok-%d", &i)
		if i%4 == 0 {
			return errors.New("rejected")
		}
		return nil
	})

	result := action.NewDispatcher(performer).Dispatch(context.Background(), "123", tokenList(20))

	assert.Equal(t, action.Result{SuccessCount: 15, FailedCount: 5}, result)
	assert.Equal(t, 20, result.Total())
}

func TestDispatcher_CapsAtMaxUnits(t *testing.T) {
	var mu sync.Mutex
	used := map[string]int{}

	performer := action.PerformerFunc(func(_ context.Context, _, token string) error {
		mu.Lock()
		defer mu.Unlock()
		used[token]++
		return nil
	})

	result := action.NewDispatcher(performer).Dispatch(context.Background(), "123", tokenList(150))

	assert.Equal(t, action.MaxUnits, result.Total())
	assert.Equal(t, action.MaxUnits, result.SuccessCount)
	require.Len(t, used, action.MaxUnits)
	for i := 0; i < action.MaxUnits; i++ {
		assert.Equal(t, 1, used[fmt.Sprintf("tok-%d", i)], "token %d", i)
	}
	assert.NotContains(t, used, "tok-100")
}

func TestDispatcher_NoTokensNoCalls(t *testing.T) {
	var calls atomic.Int32
	performer := action.PerformerFunc(func(context.Context, string, string) error {
		calls.Add(1)
		return nil
	})

	result := action.NewDispatcher(performer).Dispatch(context.Background(), "123", nil)

	assert.Equal(t, action.Result{}, result)
	assert.Zero(t, calls.Load())
}

func TestDispatcher_UnitsRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	performer := action.PerformerFunc(func(context.Context, string, string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	start := time.Now()
	result := action.NewDispatcher(performer).Dispatch(context.Background(), "123", tokenList(action.MaxUnits))

	assert.Equal(t, action.MaxUnits, result.SuccessCount)
	// sequential units would take 10s
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestDispatcher_PanicCountsAsFailure(t *testing.T) {
	performer := action.PerformerFunc(func(_ context.Context, _, token string) error {
		if token == "tok-1" {
			panic("boom")
		}
		return nil
	})

	result := action.NewDispatcher(performer).Dispatch(context.Background(), "123", tokenList(3))

	assert.Equal(t, action.Result{SuccessCount: 2, FailedCount: 1}, result)
}

func TestDispatcher_RecordsCallOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	performer := action.PerformerFunc(func(_ context.Context, _, token string) error {
		if token == "tok-0" {
			return errors.New("rejected")
		}
		return nil
	})

	action.NewDispatcherWithMeter(performer, provider.Meter("test")).
		Dispatch(context.Background(), "123", tokenList(3))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "action.dispatch.calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				counts[outcome.AsString()] += dp.Value
			}
		}
	}

	assert.Equal(t, map[string]int64{"success": 2, "failure": 1}, counts)
}

func TestDispatcher_WithClient(t *testing.T) {
	testhelpers.SetupLogger(t)
	server := testhelpers.SetupMockActionServer(t)
	defer server.Close()
	server.FailTokens["tok-2"] = true
	server.FailTokens["tok-5"] = true

	client, err := action.NewClient(actionConfig(server.URL()), server.Server.Client())
	require.NoError(t, err)

	result := action.NewDispatcher(client).Dispatch(context.Background(), "123", tokenList(8))

	assert.Equal(t, action.Result{SuccessCount: 6, FailedCount: 2}, result)
	assert.ElementsMatch(t, tokenList(8), server.Tokens())
}
