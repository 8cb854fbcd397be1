package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ewilliams-labs/mirror/internal/adapters/rest"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := rest.NewHandler(a.orch, a.auth, a.log, rest.Options{
		AllowedOrigin: a.cfg.AllowedOrigin,
		AskPerMinute:  a.cfg.Ask.PerMinute,
		AskBurst:      a.cfg.Ask.Burst,
		SecureCookies: a.cfg.Env == "production",
		SessionMaxAge: a.cfg.Storage.SessionTTL,
	})

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	a.log.Infof("Mirror API is running on http://localhost:%s", a.cfg.Port)

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		a.log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("shutdown error")
		}
		return nil
	}
}
