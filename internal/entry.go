// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/starford/relister/internal/api"
	"github.com/starford/relister/internal/control"
	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/marketplace"
	"github.com/starford/relister/internal/mcpserver"
	"github.com/starford/relister/internal/notify"
	"github.com/starford/relister/internal/panel"
	"github.com/starford/relister/internal/scheduler"
	"github.com/starford/relister/internal/sse"
	"github.com/starford/relister/internal/storage"
	"github.com/starford/relister/internal/store"
	"github.com/starford/relister/internal/watch"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_dir", cfg.Storage.Dir),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("marketplace_driver", cfg.Marketplace.Driver),
		slog.Bool("telegram", cfg.Telegram.Enabled()),
		slog.Bool("redis", cfg.Redis.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure storage directory exists.
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	if cfg.Database.Driver == store.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}

	// Initialize file storage.
	fs, err := storage.NewFS(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	sessions := storage.NewSessionStore(fs)
	counters := storage.NewCounterStore(fs)
	fixed, err := storage.NewFixedListings(fs)
	if err != nil {
		return fmt.Errorf("load fixed listings: %w", err)
	}

	// Marketplace driver.
	client := app.client
	if client == nil {
		client, err = newClient(cfg.Marketplace, sessions, counters, logger)
		if err != nil {
			return fmt.Errorf("init marketplace: %w", err)
		}
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("marketplace close failed", slog.String("error", err.Error()))
		}
	}()

	// Keyword and user store.
	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	// Events: SSE broker, plus Redis when configured.
	broker := sse.NewBroker(2*time.Second, 30*time.Second)
	defer broker.Close()
	publishers := events.Multi{broker}
	if cfg.Redis.Enabled() {
		rp, err := events.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.Channel, logger)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer rp.Close()
		publishers = append(publishers, rp)
	}

	// Telegram bot.
	var bot *tgbotapi.BotAPI
	notifier := app.notifier
	if cfg.Telegram.Enabled() {
		bot, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("init telegram: %w", err)
		}
		bot.Debug = cfg.Telegram.Debug
		logger.Info("Telegram bot authorized", slog.String("username", bot.Self.UserName))
		if notifier == nil {
			notifier = notify.NewTelegram(bot)
		}
	}

	sched := scheduler.New(logger)
	svc := control.New(control.Deps{
		Store:     db,
		Client:    client,
		Sessions:  sessions,
		Scheduler: sched,
		Fixed:     fixed,
		Notifier:  notifier,
		Admins:    cfg.Telegram.AdminIDs,
		Events:    publishers,
		Logger:    logger,
	}, cfg.Jobs.Settings())

	g, gCtx := errgroup.WithContext(ctx)

	sched.Start()

	// Follow the storage dir so fixed-listing edits apply without a restart.
	g.Go(func() error {
		err := watch.Run(gCtx, cfg.Storage.Dir, fixed, logger, func(kind string) {
			logger.Debug("storage changed", slog.String("kind", kind))
		})
		if err != nil {
			logger.Warn("storage watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Operator panel.
	if bot != nil {
		pnl := panel.New(bot, svc, cfg.Telegram.AdminIDs, logger)
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)
		g.Go(func() error {
			return pnl.Run(gCtx, updates)
		})
	}

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled() {
		httpServer = &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: newHTTPHandler(cfg, svc, broker, app.version),
		}

		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if bot != nil {
			bot.StopReceivingUpdates()
		}
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Error("scheduler shutdown error", slog.String("error", err.Error()))
		}
		if httpServer != nil {
			logger.Info("Shutting down server...")
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Stopped successfully")
	return nil
}

// errShutdown cancels the group so that the panel and watcher return.
var errShutdown = errors.New("shutdown")

func newClient(cfg MarketplaceConfig, sessions *storage.SessionStore, counters *storage.CounterStore, logger *slog.Logger) (marketplace.Client, error) {
	switch cfg.Driver {
	case marketplace.DriverBrowser:
		return marketplace.NewBrowserClient(cfg.BrowserOptions(), sessions, counters, logger)
	default:
		return marketplace.NewAPIClient(cfg.APIOptions(), sessions, counters, logger)
	}
}

// newHTTPHandler builds the root router: health probes, the control API,
// its SSE stream and the MCP endpoint.
func newHTTPHandler(cfg *Config, svc *control.Service, broker *sse.Broker, version string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := svc.Ready(ctx); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		writeHealth(w, http.StatusOK, "ok")
	})

	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	mcp := mcpserver.New(svc, version)
	r.Handle("/mcp", api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)(mcp.Handler()))

	return r
}

func writeHealth(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": msg})
}
