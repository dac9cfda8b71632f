package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/AnshRaj112/techphono-security/internal/config"
	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/handlers"
	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/internal/metrics"
	"github.com/AnshRaj112/techphono-security/internal/middleware"
	"github.com/AnshRaj112/techphono-security/internal/routes"
	"github.com/AnshRaj112/techphono-security/internal/services"
)

const (
	throttleIdleTTL   = 10 * time.Minute
	throttleSweep     = 5 * time.Minute
	shutdownTimeout   = 15 * time.Second
	identityDBTimeout = 10 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	m := metrics.New(prometheus.NewRegistry())

	if err := run(cfg, logger, m); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := database.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	identityDB, err := database.ConnectPostgres(cfg.IdentityDatabaseURL)
	if err != nil {
		return err
	}
	defer identityDB.Close()
	initCtx, cancel := context.WithTimeout(ctx, identityDBTimeout)
	err = database.InitIdentityTables(initCtx, identityDB)
	cancel()
	if err != nil {
		return err
	}
	logger.Info("identity provider ready")

	provider := services.NewPostgresIdentityProvider(identityDB, services.WithLogger(logger))
	engine, err := services.NewEngine(cfg, store, provider,
		services.WithLogger(logger), services.WithMetrics(m))
	if err != nil {
		return err
	}
	if rs, ok := store.(*database.RedisStore); ok {
		engine.Alerts.StartRelay(ctx, rs.Client())
		logger.Info("alert relay enabled")
	}
	engine.StartCleanupLoop(ctx, cfg.CleanupInterval)

	globalThrottle := middleware.NewThrottle(rate.Limit(10), 30, throttleIdleTTL,
		"Too many requests. Please slow down.")
	loginThrottle := middleware.NewThrottle(rate.Every(12*time.Second), 5, throttleIdleTTL,
		"Too many login attempts. Please try again later.")
	globalThrottle.StartSweeper(ctx, throttleSweep)
	loginThrottle.StartSweeper(ctx, throttleSweep)

	r := chi.NewRouter()
	r.Use(middleware.RequestID(logger))
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.HostCheck(cfg.Host, "localhost", "127.0.0.1"))
	r.Use(globalThrottle.Middleware)
	r.Use(loginThrottle.Paths("/auth/login"))
	r.Use(middleware.BlockedCheck(engine.Blocks))

	routes.SetupRoutes(r, handlers.New(engine, cfg, logger), engine, cfg, m)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("security engine listening", "addr", cfg.Addr(), "store", cfg.StoreBackend, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
