package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level at which audit entries are written.
const Level = zerolog.InfoLevel

type contextKey struct{}

var logKey = contextKey{}

// Entry is the audit record for a single inbound request. Handlers and
// decorators fill it in as the request progresses; it is written once when
// the request completes.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	Target          string
	TokenSource     string
	TokensAvailable int
	TokensUsed      int
	SuccessCount    int
	FailedCount     int

	Error string
}

func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	event.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	dispatch := NewOptionalEvent(nil).
		Str("target", e.Target).
		Str("tokenSource", e.TokenSource).
		Int("tokensAvailable", e.TokensAvailable)
	if e.TokensUsed > 0 {
		dispatch.Event().
			Int("tokensUsed", e.TokensUsed).
			Int("successCount", e.SuccessCount).
			Int("failedCount", e.FailedCount)
	}
	dispatch.Set(event, "dispatch")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin records the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()
	e.SourceIP = sourceIP(r)
}

// End returns a function that writes the entry to the log in ctx. It is
// intended to be deferred: a panic in progress is recorded on the entry and
// then re-raised.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
			if e.Status == 0 {
				e.Status = http.StatusInternalServerError
			}
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")

		if r != nil {
			panic(r)
		}
	}
}

// Context returns the audit entry for ctx, creating and attaching a new one
// if none is present.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(logKey).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, logKey, e), e
}

// Log returns the audit entry for ctx. When ctx carries no entry a detached
// entry is returned, so callers can always write to the result.
func Log(ctx context.Context) *Entry {
	if e, ok := ctx.Value(logKey).(*Entry); ok {
		return e
	}
	return &Entry{}
}

// Middleware attaches an audit entry to each request and writes it when the
// request completes.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
				ctx = log.Logger.WithContext(ctx)
			}

			entry.Begin(r)
			defer entry.End(ctx)()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.entry.Status == 0 {
		s.entry.Status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
