// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/double-tu/blinko-to-obsidian/internal/api"
	"github.com/double-tu/blinko-to-obsidian/internal/index"
	"github.com/double-tu/blinko-to-obsidian/internal/mcpserver"
	"github.com/double-tu/blinko-to-obsidian/internal/sse"
)

// bootstrap applies opts and builds the logger.
func bootstrap(opts []Option) (*application, *slog.Logger, io.Closer, error) {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, nil, fmt.Errorf("config is required")
	}

	logger, closer := newLogger(app.config.App, app.logOutput)
	slog.SetDefault(logger)

	cfg := app.config
	logger.Info("Configuration loaded",
		slog.String("blinko_url", cfg.Blinko.BaseURL),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("note_folder", cfg.Vault.NoteFolder),
		slog.String("state_path", cfg.State.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return app, logger, closer, nil
}

// Sync runs a single sync pass and exits.
func Sync(ctx context.Context, opts ...Option) error {
	app, logger, closer, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	svc, err := newServices(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if app.fullSync {
		if err := svc.state.ResetCursor(); err != nil {
			return err
		}
		logger.Info("Cursor reset, running full sync")
	}

	res, err := svc.notes.Sync(ctx)
	if err != nil {
		return err
	}
	logger.Info("Sync finished", slog.Int("new", res.NewCount), slog.Int("journal", len(res.JournalEntries)))
	if app.config.Sync.ReconcileAfterSync {
		if _, err := svc.notes.Reconcile(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile runs a single reconciliation pass and exits.
func Reconcile(ctx context.Context, opts ...Option) error {
	app, logger, closer, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	svc, err := newServices(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.notes.Reconcile(ctx)
	logger.Info("Reconcile finished", slog.Int("removed", res.Removed))
	return err
}

// ServeMCP exposes the engines as MCP tools on stdin/stdout.
func ServeMCP(_ context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, logger, closer, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	svc, err := newServices(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc.notes, app.version).ServeStdio()
}

// Run starts the long-running server: control API, event stream, periodic
// sync and the vault watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, closer, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg := app.config

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc, err := newServices(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer svc.Close()

	apiRouter := api.NewRouter(svc.notes, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := svc.state.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Invalidate the note index on external vault edits.
	g.Go(func() error {
		err := index.Watch(gCtx, svc.index, cfg.Vault.Path, logger, func(path string) {
			broker.Publish(sse.Event{Type: sse.VaultUpdated, Data: map[string]string{"path": path}})
		})
		if err != nil {
			logger.Warn("vault watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Periodic sync.
	g.Go(func() error {
		runPeriodic(gCtx, svc, cfg.App.SyncInterval, cfg.Sync.ReconcileAfterSync, logger)
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Reload the vault layout on SIGHUP.
	if app.reload != nil {
		g.Go(func() error {
			watchReload(gCtx, svc, app.reload, logger)
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the periodic loop and watcher stop.
var errShutdown = errors.New("shutdown")

// runPeriodic syncs once immediately and then every interval until ctx is
// done. A zero interval runs only the initial pass.
func runPeriodic(ctx context.Context, svc *services, interval time.Duration, reconcileAfter bool, logger *slog.Logger) {
	pass := func() {
		if _, err := svc.notes.Sync(ctx); err != nil {
			// Logged by the engine; the next tick retries from the same cursor.
			return
		}
		if reconcileAfter {
			_, _ = svc.notes.Reconcile(ctx)
		}
	}

	pass()
	if interval <= 0 {
		logger.Info("Periodic sync disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass()
		}
	}
}

// watchReload re-reads the configuration on every SIGHUP until ctx is done.
// A config that fails to load or validate leaves the running one in place.
func watchReload(ctx context.Context, svc *services, load func() (*Config, error), logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := load()
			if err == nil {
				err = svc.reconfigure(cfg)
			}
			if err != nil {
				logger.Error("Configuration reload failed", slog.String("error", err.Error()))
			}
		}
	}
}
