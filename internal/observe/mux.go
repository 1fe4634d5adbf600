package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers handlers on a wrapped multiplexer with server telemetry
// applied. Routes that must stay out of telemetry (health checks) are
// registered on the wrapped multiplexer directly.
type Mux struct {
	wrapped Multiplexer
	opts    []otelhttp.Option
}

func NewMux(wrapped Multiplexer, opts ...otelhttp.Option) *Mux {
	return &Mux{
		wrapped: wrapped,
		opts:    opts,
	}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	// span operation name is the route without its method
	taggedHandler := otelhttp.NewHandler(
		handler,
		TrimMethod(pattern),
		mux.opts...,
	)

	mux.wrapped.Handle(pattern, taggedHandler)
}

func (mux *Mux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	mux.Handle(pattern, http.HandlerFunc(handler))
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

func TrimMethod(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return resource
	}
	return pattern
}
