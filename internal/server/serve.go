package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs the HTTP server until the process receives SIGINT or SIGTERM,
// then drains in-flight requests for up to shutdownTimeout before giving up.
// On return, all shutdown hooks have been executed.
func Serve(ctx context.Context, srv *http.Server, hooks *ShutdownHooks, shutdownTimeout time.Duration) error {
	notifyCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server starting")
		serveErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-serveErr:
		// Listener failed before any signal arrived.
	case <-notifyCtx.Done():
		stop()
		log.Info().Msg("shutdown signal received, draining requests")

		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if shutdownErr := srv.Shutdown(drainCtx); shutdownErr != nil {
			log.Warn().Err(shutdownErr).Msg("server drain incomplete, closing")
			_ = srv.Close()
		}
		err = <-serveErr
	}

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	hooks.Execute(hookCtx)

	return err
}
