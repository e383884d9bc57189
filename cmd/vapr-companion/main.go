package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Vic92548/vapr-companion/internal/cleanup"
	"github.com/Vic92548/vapr-companion/internal/config"
	"github.com/Vic92548/vapr-companion/internal/download"
	"github.com/Vic92548/vapr-companion/internal/fetch"
	"github.com/Vic92548/vapr-companion/internal/http/rest"
	"github.com/Vic92548/vapr-companion/internal/logctx"
	"github.com/Vic92548/vapr-companion/internal/notifier"
	"github.com/Vic92548/vapr-companion/internal/sdk"
	"github.com/Vic92548/vapr-companion/internal/storage"
	"github.com/Vic92548/vapr-companion/internal/storage/sqlite"
	"github.com/Vic92548/vapr-companion/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("vapr companion starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	instanceID := storage.GenerateInstanceID()
	repo := sqlite.NewInstrumentedDownloadRepository(database, instanceID, tel)

	logger.Info("download history ready", "db_path", cfg.DBPath, "instance_id", instanceID)

	// =========================================================================
	// Start Download Manager
	events := rest.NewEventStream(0)
	sinks := download.MultiSink{download.LogSink{}, events}

	var notifications *notifier.DownloadSink
	if cfg.DiscordWebhookURL != "" {
		notifications = notifier.NewDownloadSink(&notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL})
		sinks = append(sinks, notifications)
	}

	fetcher := fetch.NewClient(fetch.Options{
		ConnectTimeout:        cfg.Fetch.ConnectTimeout,
		ResponseHeaderTimeout: cfg.Fetch.ResponseHeaderTimeout,
	})

	manager := download.NewManager(cfg.GamesDir, fetcher, sinks,
		download.WithRepository(repo),
		download.WithTelemetry(tel),
		download.WithProgressInterval(cfg.ProgressInterval),
		download.WithExtractStatusEvery(cfg.ExtractStatusEvery),
	)

	// =========================================================================
	// Start Session Broadcast Server
	sdkServer := sdk.NewServer(
		sdk.WithMailboxSize(cfg.SDK.MailboxSize),
		sdk.WithTelemetry(tel),
	)

	// =========================================================================
	// Start API Service
	router := rest.NewRouter(
		rest.NewDownloadHandler(manager, repo, events, instanceID),
		rest.NewSDKHandler(sdkServer),
		tel,
	)

	apiServer := newHTTPServer(ctx, cfg, cfg.Web.BindAddress, router)
	wsServer := newHTTPServer(ctx, cfg, cfg.SDK.BindAddress, sdkServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		return listen(apiServer)
	})

	g.Go(func() error {
		logger.Info("Initializing SDK websocket server", "host", cfg.SDK.BindAddress)

		return listen(wsServer)
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		runCleanup(gctx, manager, cfg)

		return nil
	})

	logger.Info("waiting for launcher requests...",
		"games_dir", cfg.GamesDir,
		"cleanup_interval", cfg.CleanupInterval.String(),
		"keep_partial_for", cfg.KeepPartialFor.String(),
	)

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests and attempts a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		var errs []error

		for _, srv := range []*http.Server{apiServer, wsServer} {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "addr", srv.Addr, "err", err)

				if err := srv.Close(); err != nil {
					errs = append(errs, fmt.Errorf("could not stop server %s gracefully: %w", srv.Addr, err))
				}
			}
		}

		if err := sdkServer.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sdk sessions: %w", err))
		}

		if err := manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop downloads: %w", err))
		}

		if notifications != nil {
			notifications.Wait()
		}

		return errors.Join(errs...)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

func newHTTPServer(ctx context.Context, cfg *config.Config, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      h,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s error: %w", srv.Addr, err)
	}

	return nil
}

func runCleanup(ctx context.Context, manager *download.Manager, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			if _, err := cleanup.DeleteStalePartials(ctx, cfg.GamesDir, cfg.KeepPartialFor, manager.PartialFiles()); err != nil {
				logger.Error("failed to delete stale partial files", "err", err)
			}
		}
	}
}
