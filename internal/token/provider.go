package token

import (
	"context"
	"time"

	"github.com/friendrelay/friendrelay/internal/credential"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// DefaultExchangeTimeout bounds each individual token exchange.
const DefaultExchangeTimeout = 25 * time.Second

// Provider obtains fresh tokens for a set of credentials.
type Provider struct {
	exchanger Exchanger
	timeout   time.Duration
	exchanges metric.Int64Counter
}

// NewProvider creates a provider that exchanges through exchanger, giving each
// exchange its own timeout. A non-positive timeout selects
// DefaultExchangeTimeout.
func NewProvider(exchanger Exchanger, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}

	exchanges, err := otel.Meter("github.com/friendrelay/friendrelay/internal/token").Int64Counter(
		"token.exchanges",
		metric.WithDescription("Token exchanges by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Provider{
		exchanger: exchanger,
		timeout:   timeout,
		exchanges: exchanges,
	}
}

// Refresh exchanges every credential concurrently and returns the tokens that
// were issued. All exchanges start at once; a failed exchange is logged and
// contributes nothing, and never affects the others. The order of the result
// is unspecified and duplicates are kept.
func (p *Provider) Refresh(ctx context.Context, creds []credential.Credential) []string {
	if len(creds) == 0 {
		return []string{}
	}

	start := time.Now()
	issued := make([]string, len(creds))

	// Each exchange reports success by filling its own slot, so the group
	// never returns an error and nothing cancels siblings.
	var g errgroup.Group
	for i, cred := range creds {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			tok, err := p.exchanger.Exchange(callCtx, cred)
			if err != nil {
				log.Ctx(ctx).Info().Err(err).Str("uid", cred.Identity).Msg("token exchange failed")
				p.record(ctx, "failure")
				return nil
			}

			issued[i] = tok
			p.record(ctx, "success")
			return nil
		})
	}
	_ = g.Wait()

	tokens := make([]string, 0, len(creds))
	for _, tok := range issued {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	log.Ctx(ctx).Info().
		Int("requested", len(creds)).
		Int("issued", len(tokens)).
		Dur("elapsed", time.Since(start)).
		Msg("token refresh complete")

	return tokens
}

func (p *Provider) record(ctx context.Context, outcome string) {
	if p.exchanges == nil {
		return
	}
	p.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
