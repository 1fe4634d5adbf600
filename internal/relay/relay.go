package relay

import (
	"context"
	"net/http"
	"sync"

	"github.com/friendrelay/friendrelay/internal/action"
	"github.com/friendrelay/friendrelay/internal/credential"
	"github.com/rs/zerolog/log"
)

// Status values reported to callers.
const (
	StatusDelivered   = 1 // at least one action succeeded
	StatusUndelivered = 2
)

// Token sources recorded on an Outcome.
const (
	SourceCache   = "cache"
	SourceRefresh = "refresh"
)

var (
	ErrMissingParameter = statusError{code: http.StatusBadRequest, message: "uid parameter is required"}
	ErrNoValidTokens    = statusError{code: http.StatusInternalServerError, message: "No valid tokens found"}
)

// statusError is a whole-request failure carrying the HTTP status it maps to.
type statusError struct {
	code    int
	message string
}

func (e statusError) Error() string {
	return e.message
}

func (e statusError) Status() (int, string) {
	return e.code, e.message
}

// Outcome is the aggregated result of one relay request. Only the counts and
// status are part of the response body.
type Outcome struct {
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
	Status       int `json:"status"`

	TokenSource     string `json:"-"`
	TokensAvailable int    `json:"-"`
	TokensUsed      int    `json:"-"`
}

type CredentialSource interface {
	Load(ctx context.Context) []credential.Credential
}

type TokenStore interface {
	Load(ctx context.Context) ([]string, bool)
	Save(ctx context.Context, tokens []string) error
}

type Refresher interface {
	Refresh(ctx context.Context, creds []credential.Credential) []string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, target string, tokens []string) action.Result
}

// Handler performs the relay for a target identity.
type Handler func(ctx context.Context, target string) (Outcome, error)

// Relay obtains tokens, from the store or by refreshing them from the
// credential source, and dispatches the action for a target with them.
type Relay struct {
	credentials CredentialSource
	store       TokenStore
	refresher   Refresher
	dispatcher  Dispatcher

	// guards the load-or-refresh-then-save sequence
	mu sync.Mutex
}

func New(credentials CredentialSource, store TokenStore, refresher Refresher, dispatcher Dispatcher) *Relay {
	return &Relay{
		credentials: credentials,
		store:       store,
		refresher:   refresher,
		dispatcher:  dispatcher,
	}
}

// Handle dispatches the action for target using every available token (up to
// the dispatch cap). It fails with ErrMissingParameter for an empty target,
// and with ErrNoValidTokens when no tokens can be obtained. Individual action
// failures are reported in the outcome, not as an error.
func (r *Relay) Handle(ctx context.Context, target string) (Outcome, error) {
	if target == "" {
		return Outcome{}, ErrMissingParameter
	}

	tokens, source := r.tokens(ctx)
	if len(tokens) == 0 {
		return Outcome{TokenSource: source}, ErrNoValidTokens
	}

	// units run to completion even if the caller goes away; each call has its
	// own timeout
	result := r.dispatcher.Dispatch(context.WithoutCancel(ctx), target, tokens)

	status := StatusUndelivered
	if result.SuccessCount > 0 {
		status = StatusDelivered
	}

	return Outcome{
		SuccessCount:    result.SuccessCount,
		FailedCount:     result.FailedCount,
		Status:          status,
		TokenSource:     source,
		TokensAvailable: len(tokens),
		TokensUsed:      result.Total(),
	}, nil
}

func (r *Relay) tokens(ctx context.Context) ([]string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tokens, ok := r.store.Load(ctx); ok {
		return tokens, SourceCache
	}

	log.Ctx(ctx).Info().Msg("no usable cached tokens, refreshing")

	tokens := r.refresher.Refresh(ctx, r.credentials.Load(ctx))
	if len(tokens) > 0 {
		if err := r.store.Save(ctx, tokens); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("refreshed tokens not cached")
		}
	}

	return tokens, SourceRefresh
}
