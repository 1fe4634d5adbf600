package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/friendrelay/friendrelay/internal/action"
	"github.com/friendrelay/friendrelay/internal/audit"
	"github.com/friendrelay/friendrelay/internal/cache"
	"github.com/friendrelay/friendrelay/internal/config"
	"github.com/friendrelay/friendrelay/internal/credential"
	"github.com/friendrelay/friendrelay/internal/observe"
	"github.com/friendrelay/friendrelay/internal/relay"
	"github.com/friendrelay/friendrelay/internal/server"
	"github.com/friendrelay/friendrelay/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

// only one record is ever stored; the bound matters for the memory backend
const maxCachedRecords = 16

func configureServerRoutes(ctx context.Context, cfg config.Config, hooks *server.ShutdownHooks) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// The API takes no request body, so the limit is small and not
	// configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	auditedRouteMiddleware := alice.New(requestLimiter, audit.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	// token storage
	backend, err := cache.NewFromConfig[token.Set](ctx, cfg.Cache, cfg.Cache.TokenLifetime, maxCachedRecords)
	if err != nil {
		return nil, fmt.Errorf("token cache configuration failed: %w", err)
	}
	hooks.Add("token cache", backend.Close)

	tokenCache := token.NewCache(backend, cfg.Cache.TokenLifetime)

	// token issuing
	issuer, err := token.NewIssuerClient(cfg.Issuer.URL, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("issuer configuration failed: %w", err)
	}
	provider := token.NewProvider(issuer, cfg.Issuer.Timeout)

	// action dispatch
	actionClient, err := action.NewClient(cfg.Action, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("action configuration failed: %w", err)
	}
	dispatcher := action.NewDispatcher(actionClient)

	relayer := relay.New(
		credential.NewSource(cfg.Credentials.File),
		tokenCache,
		provider,
		dispatcher,
	)

	mux.Handle("GET /send_requests", auditedRouteMiddleware.Then(handleSendRequests(relay.Auditor(relayer.Handle))))
	mux.Handle("GET /{$}", standardRouteMiddleware.Then(handleHome()))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg, hooks)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	err = server.Run(cfg.Server, server.New(cfg.Server, handler), hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxIdleConnsPerHost = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
