package relay_test

import (
	"context"
	"testing"

	"github.com/friendrelay/friendrelay/internal/audit"
	"github.com/friendrelay/friendrelay/internal/relay"
	"github.com/stretchr/testify/assert"
)

func TestAuditor_Success(t *testing.T) {
	handler := relay.Auditor(func(context.Context, string) (relay.Outcome, error) {
		return relay.Outcome{
			SuccessCount:    90,
			FailedCount:     10,
			Status:          relay.StatusDelivered,
			TokenSource:     relay.SourceCache,
			TokensAvailable: 120,
			TokensUsed:      100,
		}, nil
	})

	ctx, _ := audit.Context(context.Background())

	outcome, err := handler(ctx, "123")
	assert.NoError(t, err)
	assert.Equal(t, 90, outcome.SuccessCount)

	entry := audit.Log(ctx)
	assert.Empty(t, entry.Error)
	assert.Equal(t, "123", entry.Target)
	assert.Equal(t, relay.SourceCache, entry.TokenSource)
	assert.Equal(t, 120, entry.TokensAvailable)
	assert.Equal(t, 100, entry.TokensUsed)
	assert.Equal(t, 90, entry.SuccessCount)
	assert.Equal(t, 10, entry.FailedCount)
}

func TestAuditor_Failure(t *testing.T) {
	handler := relay.Auditor(func(context.Context, string) (relay.Outcome, error) {
		return relay.Outcome{TokenSource: relay.SourceRefresh}, relay.ErrNoValidTokens
	})

	ctx, _ := audit.Context(context.Background())

	_, err := handler(ctx, "123")
	assert.ErrorIs(t, err, relay.ErrNoValidTokens)

	entry := audit.Log(ctx)
	assert.Equal(t, "relay failure: No valid tokens found", entry.Error)
	assert.Equal(t, relay.SourceRefresh, entry.TokenSource)
	assert.Zero(t, entry.TokensUsed)
}
