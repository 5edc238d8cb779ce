package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/blade/adapter/api"
	"github.com/felixgeelhaar/blade/adapter/cli"
	"github.com/felixgeelhaar/blade/internal/app"
	mcpinternal "github.com/felixgeelhaar/blade/internal/mcp"
	"github.com/felixgeelhaar/blade/pkg/config"
	"github.com/felixgeelhaar/blade/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfigFor(cfg.AppEnv, cfg.LogLevel, "blade"))
	slog.SetDefault(logger)
	cli.SetLogger(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	cliApp := mcpinternal.NewCLIApp(container)
	cliApp.Serve = func(ctx context.Context) error {
		return serve(ctx, container)
	}
	cli.SetApp(cliApp)

	cli.Execute(ctx)
}

// serve runs the HTTP API and the outbox relay until ctx is cancelled.
func serve(ctx context.Context, container *app.Container) error {
	cfg := container.Config
	logger := container.Logger

	if cfg.OutboxProcessorEnabled {
		container.OutboxProcessor.Start(ctx)
	} else {
		logger.Info("outbox processor disabled, run the worker to relay events")
	}

	handlerCfg := api.HandlerConfig{
		Users:               container.UserService,
		Busy:                container.BusyService,
		FrontendRedirectURL: cfg.FrontendRedirectURL,
		Logger:              logger,
	}
	if container.Orchestrator != nil {
		handlerCfg.Syncer = container.Orchestrator
	}
	if container.OAuth != nil {
		handlerCfg.Authorizer = container.OAuth
	}
	if container.DisconnectService != nil {
		handlerCfg.Disconnector = container.DisconnectService
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.HTTPAddr
	server := api.NewServer(serverCfg, api.NewHandler(handlerCfg), container.Health, container.Metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
