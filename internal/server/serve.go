package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/friendrelay/friendrelay/internal/config"
	"github.com/rs/zerolog/log"
)

// New creates an HTTP server for handler configured from cfg.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}
}

// Run listens on the server's address and serves until SIGINT or SIGTERM is
// received, then shuts down gracefully.
func Run(cfg config.ServerConfig, srv *http.Server, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	return Serve(ctx, listener, srv, time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second, hooks)
}

// Serve handles requests on listener until ctx is cancelled. In-flight
// requests are then given up to shutdownTimeout to complete before the hooks
// are executed.
func Serve(ctx context.Context, listener net.Listener, srv *http.Server, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server: listening")
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", shutdownTimeout).Msg("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn().Err(err).Msg("server: graceful shutdown incomplete")
	}

	if hooks != nil {
		hooks.Execute(shutdownCtx)
	}

	log.Info().Msg("server: shutdown complete")

	return err
}
