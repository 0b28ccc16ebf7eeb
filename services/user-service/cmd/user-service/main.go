package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/eventoutbox/libs/db"
	"github.com/md-rashed-zaman/eventoutbox/libs/httpx"
	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
	"github.com/md-rashed-zaman/eventoutbox/libs/runtime"
	"github.com/md-rashed-zaman/eventoutbox/services/user-service/internal/accounts"
	"github.com/md-rashed-zaman/eventoutbox/services/user-service/internal/config"
	"github.com/md-rashed-zaman/eventoutbox/services/user-service/internal/handlers"
	"github.com/md-rashed-zaman/eventoutbox/services/user-service/internal/storage"
)

func main() {
	cfg, err := config.Load(runtime.Getenv("CONFIG_FILE", ""))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("user service stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	otelShutdown, err := otelx.Setup(ctx, cfg.ServiceName, cfg.OTel)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{})
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if err := outbox.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate outbox: %w", err)
	}
	if err := storage.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	// Without Redis the relay finds new rows on its next poll.
	var notifier outbox.Notifier
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		rn := outbox.NewRedisNotifier(rdb, cfg.RedisNotifyChannel, logger)
		go rn.Run(ctx)
		notifier = rn
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	store := outbox.NewStore(pool)
	recorder := outbox.NewRecorder(store, notifier, logger)
	svc := accounts.NewService(storage.NewRepository(), recorder, pool, cfg.InvitationTTL)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, every change is attributed to the system actor")
	}
	r := chi.NewRouter()
	r.Get("/healthz", runtime.Healthz)
	r.Get("/readyz", runtime.ReadyHandler(checks...))
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", handlers.NewUserHandler(svc, logger).Routes(cfg.JWTSecret))

	handler := httpx.Chain(r,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger, "/healthz", "/readyz", "/metrics"),
		httpx.WithBodyLimit(1<<20),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}
