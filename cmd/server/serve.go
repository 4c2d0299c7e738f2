package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/unalkalkan/pdftools-offline/internal/config"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logging.Info().
		Add(logging.Version(version)).
		Add(logging.Str("config", configPath)).
		Msg("Starting pdftools offline controller")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logging.Info().Add(logging.Str("adapter", cfg.Storage.Adapter)).Msg("Storage adapter initialized")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      a.handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Add(logging.Str("addr", addr)).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Requests pass through until the first version activates
	go a.register(ctx, cfg)
	go a.watch(ctx, configPath)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logging.Info().Msg("Shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logging.Info().Msg("Server stopped")
	return nil
}

// register runs one controller version through its lifecycle and logs the
// outcome; a failed install leaves the previous version in charge
func (a *app) register(ctx context.Context, cfg *types.Config) {
	if err := a.update(ctx, cfg); err != nil {
		logging.Warn().Add(logging.ErrorField(err)).Msg("Controller update failed")
		return
	}
	if active := a.reg.Active(); active != nil {
		logging.Info().
			Add(logging.Version(active.Version())).
			Add(logging.State(string(active.State()))).
			Msg("Controller update finished")
	}
}

// watch registers a new controller version whenever the config file
// changes or the process receives SIGHUP
func (a *app) watch(ctx context.Context, configPath string) {
	onError := func(err error) {
		logging.Warn().Add(logging.ErrorField(err)).Msg("Config reload failed")
	}
	onReload := func(cfg *types.Config) {
		logging.Info().Add(logging.Str("config", configPath)).Msg("Config changed, updating controller")
		a.register(ctx, cfg)
	}

	go func() {
		if err := config.Watch(ctx, configPath, onReload, onError); err != nil {
			logging.Warn().Add(logging.ErrorField(err)).Msg("Config watch disabled")
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(configPath)
			if err != nil {
				onError(err)
				continue
			}
			logging.Info().Msg("SIGHUP received, updating controller")
			a.register(ctx, cfg)
		}
	}
}
