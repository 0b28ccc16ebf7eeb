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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/eventoutbox/libs/amqpx"
	"github.com/md-rashed-zaman/eventoutbox/libs/db"
	"github.com/md-rashed-zaman/eventoutbox/libs/events"
	"github.com/md-rashed-zaman/eventoutbox/libs/httpx"
	"github.com/md-rashed-zaman/eventoutbox/libs/kafkax"
	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
	"github.com/md-rashed-zaman/eventoutbox/libs/runtime"
	"github.com/md-rashed-zaman/eventoutbox/services/notification-service/internal/config"
	"github.com/md-rashed-zaman/eventoutbox/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/eventoutbox/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/eventoutbox/services/notification-service/internal/notify"
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
		logger.Error("notification service stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("notification service stopped")
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

	if err := inbox.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var sender email.Sender = email.LogSender{Logger: logger}
	if cfg.SMTPHost != "" {
		sender = email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	} else {
		logger.Warn("SMTP_HOST not set, emails are logged only")
	}

	processor := notify.NewProcessor(pool, inbox.NewRepository(), events.Catalog(), logger)
	notify.NewMailer(sender, cfg.InviteBaseURL, logger).Register(processor)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	g, gctx := errgroup.WithContext(ctx)
	switch cfg.BrokerKind {
	case config.BrokerKafka:
		consumer, err := kafkax.NewConsumer(kafkax.ConsumerConfig{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     cfg.KafkaGroupID,
			Topics:      cfg.Topics(),
			MaxAttempts: cfg.KafkaMaxAttempts,
			RetryDelay:  cfg.KafkaRetryDelay,
		}, logger)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		defer consumer.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
		g.Go(func() error {
			consumer.Run(gctx, processor.KafkaHandler())
			return nil
		})
	default:
		consumer, err := amqpx.DialConsumer(amqpx.Config{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.RabbitMQExchange,
			Queue:    cfg.RabbitMQQueue,
		}, cfg.RabbitMQPrefetch, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer: %w", err)
		}
		defer consumer.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "rabbitmq", Check: consumer.Ping})
		g.Go(func() error {
			return consumer.Run(gctx, processor.AMQPHandler())
		})
	}

	r := chi.NewRouter()
	r.Get("/healthz", runtime.Healthz)
	r.Get("/readyz", runtime.ReadyHandler(checks...))
	r.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpx.Chain(r, httpx.WithRequestID), cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("http server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
