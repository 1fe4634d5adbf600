package relay

import (
	"context"
	"fmt"

	"github.com/friendrelay/friendrelay/internal/audit"
)

// Auditor wraps a Handler and records the result of each relay to the audit
// log.
func Auditor(handler Handler) Handler {
	return func(ctx context.Context, target string) (Outcome, error) {
		outcome, err := handler(ctx, target)

		entry := audit.Log(ctx)
		entry.Target = target
		entry.TokenSource = outcome.TokenSource
		if err != nil {
			entry.Error = fmt.Sprintf("relay failure: %v", err)
		} else {
			entry.TokensAvailable = outcome.TokensAvailable
			entry.TokensUsed = outcome.TokensUsed
			entry.SuccessCount = outcome.SuccessCount
			entry.FailedCount = outcome.FailedCount
		}

		return outcome, err
	}
}
