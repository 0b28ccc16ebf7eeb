package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/md-rashed-zaman/eventoutbox/libs/amqpx"
	"github.com/md-rashed-zaman/eventoutbox/libs/db"
	"github.com/md-rashed-zaman/eventoutbox/libs/grpcx"
	"github.com/md-rashed-zaman/eventoutbox/libs/httpx"
	"github.com/md-rashed-zaman/eventoutbox/libs/kafkax"
	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
	"github.com/md-rashed-zaman/eventoutbox/libs/runtime"
	"github.com/md-rashed-zaman/eventoutbox/services/outbox-relay/internal/config"
	"github.com/md-rashed-zaman/eventoutbox/services/outbox-relay/internal/handlers"
	"github.com/md-rashed-zaman/eventoutbox/services/outbox-relay/internal/maintenance"
)

const shutdownTimeout = 15 * time.Second

// pingBroker is a broker that can also report reachability for /readyz.
type pingBroker interface {
	outbox.Broker
	Ping(ctx context.Context) error
}

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
		logger.Error("outbox relay stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("outbox relay stopped")
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
		return fmt.Errorf("migrate: %w", err)
	}

	broker, err := connectBroker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}

	store := outbox.NewStore(pool)
	pubCfg := outbox.PublisherConfig{
		PollInterval:   cfg.PollInterval(),
		BatchSize:      cfg.BatchSize,
		MaxRetries:     cfg.MaxRetries,
		PublishTimeout: cfg.PublishTimeout(),
	}
	if cfg.AdvisoryLockKey != 0 {
		pubCfg.Lock = db.NewAdvisoryLock(pool, cfg.AdvisoryLockKey)
	}
	publisher := outbox.NewPublisher(store, broker, logger, pubCfg)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: cfg.BrokerKind, Check: broker.Ping},
	}

	var rdb *redis.Client
	limiter := httpx.NewRateLimiter(cfg.AdminRateLimitPerMinute, time.Minute).Middleware()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = publisher.Close(ctx)
			return fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.AdminRateLimitPerMinute, time.Minute, "outbox-admin").
			Middleware(logger, true)
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin API is unauthenticated")
	}

	admin := handlers.NewAdminHandler(store, publisher, logger, cfg.PurgeAfterDays)
	r := chi.NewRouter()
	r.Get("/healthz", runtime.Healthz)
	r.Get("/readyz", runtime.ReadyHandler(checks...))
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", admin.Routes(cfg.AdminJWTSecret, limiter))

	handler := httpx.Chain(r,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger, "/healthz", "/readyz", "/metrics"),
	)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		_ = publisher.Close(ctx)
		return fmt.Errorf("grpc listen: %w", err)
	}

	purger := maintenance.NewPurgeWorker(store, logger, maintenance.PurgeConfig{
		Interval:      cfg.PurgeInterval,
		OlderThanDays: cfg.PurgeAfterDays,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Close, not ctx, ends the publisher so an in-flight run can finish.
		err := publisher.Run(context.WithoutCancel(gctx))
		if errors.Is(err, outbox.ErrPublisherClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		purger.Run(gctx)
		return nil
	})
	g.Go(func() error {
		grpcx.ReportHealth(gctx, health, "", time.Second, publisher.Running)
		return nil
	})
	if rdb != nil {
		g.Go(func() error {
			if err := outbox.ListenRedis(gctx, rdb, cfg.RedisNotifyChannel, publisher, logger); err != nil {
				logger.Warn("redis notify listener stopped, relying on polling", "err", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("http server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server starting", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		grpcSrv.GracefulStop()
		if err := publisher.Close(shutdownCtx); err != nil {
			logger.Error("publisher close error", "err", err)
		}
		return nil
	})

	return g.Wait()
}

func connectBroker(ctx context.Context, cfg config.Config, logger *slog.Logger) (pingBroker, error) {
	switch cfg.BrokerKind {
	case config.BrokerKafka:
		p, err := kafkax.NewProducer(kafkax.ProducerConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			_ = p.Close()
			return nil, err
		}
		logger.Info("kafka producer ready", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return p, nil
	default:
		p, err := amqpx.Dial(amqpx.Config{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.RabbitMQExchange,
			Queue:    cfg.RabbitMQQueue,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("rabbitmq publisher ready", "exchange", cfg.RabbitMQExchange, "queue", cfg.RabbitMQQueue)
		return p, nil
	}
}
