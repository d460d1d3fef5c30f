package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"whosaid/internal/app"
	"whosaid/internal/config"
	"whosaid/internal/docstore"
	"whosaid/internal/docstore/memory"
	"whosaid/internal/docstore/postgres"
	"whosaid/internal/docstore/sqlite"
	"whosaid/internal/game"
	"whosaid/internal/identity"
	"whosaid/internal/telemetry"
	httpTransport "whosaid/internal/transport/http"
)

var version = "dev"

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 30 * time.Second

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}

// serve runs the server until ctx is cancelled
func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting whosaid server",
		"version", version,
		"env", cfg.Server.Env,
		"addr", cfg.Addr(),
		"store", cfg.Store.Driver,
		"auth", cfg.Auth.Mode,
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	var opts []game.Option
	if cfg.Game.PromptsFile != "" {
		prompts, err := game.LoadPromptFile(cfg.Game.PromptsFile)
		if err != nil {
			return err
		}
		logger.Info("loaded prompt bank", "path", cfg.Game.PromptsFile, "prompts", len(prompts))
		opts = append(opts, game.WithPromptBank(prompts))
	}
	svc := game.NewService(store, cfg.Game.Settings(), logger, opts...)

	hub := app.NewHub(svc, store, app.HubConfig{
		RoomTTL:         cfg.Game.RoomTTL,
		CleanupInterval: cfg.Game.CleanupInterval,
	}, logger)
	defer hub.Close()

	ident, err := newIdentity(cfg.Auth)
	if err != nil {
		return err
	}

	server := httpTransport.NewServer(cfg, hub, ident, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func openStore(ctx context.Context, cfg config.StoreConfig) (docstore.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.OpenStore(cfg.Path)
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return postgres.OpenStore(ctx, cfg.DSN)
	default:
		return memory.New(), nil
	}
}

func newIdentity(cfg config.AuthConfig) (identity.Provider, error) {
	if cfg.Mode == "token" {
		return identity.NewToken(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL)
	}
	return identity.NewAnonymous(cfg.CookieName, cfg.SecureCookie), nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	logOpts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Level),
	}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, logOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, logOpts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
