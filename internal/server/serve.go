package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs server until ctx is cancelled, then drains in-flight requests
// for at most shutdownTimeout before running hooks. A listener failure is
// returned after the hooks have run.
func Serve(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server listening")
		serveErr <- server.Serve(listener)
	}()

	var err error
	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("server shutdown did not complete cleanly")
	}

	if hooks != nil {
		if hookErr := hooks.Execute(shutdownCtx); hookErr != nil {
			log.Warn().Err(hookErr).Msg("shutdown hooks reported failures")
		}
	}

	log.Info().Msg("server stopped")
	return err
}
