// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
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

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/noteservice"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/vault"
)

// runtime bundles the vault, the write tracker, and the engine built over
// them. Every entry point (server and one-shot commands) goes through the
// same construction so rewrites are always tracked.
type runtime struct {
	fs      *vault.FS
	tracker *vault.Tracker
	tracked *vault.TrackedFS
	engine  *index.Engine
}

// openVault creates the vault directory if needed and builds the runtime.
func openVault(cfg *Config, logger *slog.Logger) (*runtime, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	fs, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	tracker := vault.NewTracker(0)
	tracked := vault.NewTrackedFS(fs, tracker)

	engine, err := index.Open(fs,
		index.WithLogger(logger),
		index.WithWriter(tracked),
		index.WithTitlePolicy(cfg.Vault.TitlePolicy),
		index.WithBatchSize(cfg.Index.BatchSize),
		index.WithIndexDirName(cfg.Index.DirName),
	)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	return &runtime{fs: fs, tracker: tracker, tracked: tracked, engine: engine}, nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{logOut: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("title_policy", cfg.Vault.TitlePolicy),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	// Run initial sync so the index reflects edits made while we were down.
	if stats, err := rt.engine.SyncFileSystemChanges(ctx, nil); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync complete",
			slog.Int("added", stats.Added),
			slog.Int("updated", stats.Updated),
			slog.Int("deleted", stats.Deleted))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Build the note service and API router. The broker doubles as the
	// change notifier and the /events handler.
	svc := noteservice.NewService(rt.fs, rt.tracked, rt.engine, broker)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the vault watcher, feeding index changes into the broker.
	g.Go(func() error {
		err := rt.engine.Watch(gCtx, rt.tracker, func(ev index.Event) {
			if ev.Kind == index.EventSynced {
				broker.PublishSynced()
				return
			}
			broker.PublishNoteEvent(ev.Kind, ev.ID, ev.Path)
		})
		if err != nil && gCtx.Err() == nil {
			// Keep serving without live updates; /sync still reconciles.
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
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

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// cliLogger logs to stderr so one-shot command output on stdout stays
// machine-readable.
func cliLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RunSync reconciles the index with the vault once and prints the stats.
func RunSync(ctx context.Context, cfg *Config, out io.Writer) error {
	rt, err := openVault(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	stats, err := rt.engine.SyncFileSystemChanges(ctx, nil)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

// RunRebuild reconstructs the whole index from scratch and prints the
// resulting index stats.
func RunRebuild(ctx context.Context, cfg *Config, out io.Writer) error {
	logger := cliLogger(cfg)
	rt, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	err = rt.engine.RebuildIndex(ctx, func(processed, total int) {
		logger.Info("rebuild progress", slog.Int("processed", processed), slog.Int("total", total))
	})
	if err != nil {
		return err
	}
	stats, err := rt.engine.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

// RunSearch runs one text search against the index and prints the results.
func RunSearch(ctx context.Context, cfg *Config, query string, limit int, out io.Writer) error {
	rt, err := openVault(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	resp, err := rt.engine.SearchNotes(ctx, index.SearchOptions{Query: query, Limit: limit})
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

// RunStats prints index statistics.
func RunStats(ctx context.Context, cfg *Config, out io.Writer) error {
	rt, err := openVault(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	stats, err := rt.engine.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}
