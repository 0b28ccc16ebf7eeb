package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultMaxRetries     = 5
	DefaultPublishTimeout = 10 * time.Second
)

// RunLock extends the single-flight guard across processes.
type RunLock interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type PublisherConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxRetries     int
	PublishTimeout time.Duration
	Lock           RunLock
}

// RunResult summarises one processing run.
type RunResult struct {
	Fetched      int
	Published    int
	Failed       int
	DeadLettered int
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeFailed
	outcomeDeadLettered
	outcomeMarkFailed
	outcomeInterrupted
)

type Publisher struct {
	store  DeliveryStore
	broker Broker
	logger *slog.Logger
	cfg    PublisherConfig
	tracer trace.Tracer

	running atomic.Bool
	looping atomic.Bool
	wake    chan struct{}
	stop    chan struct{}

	mu       sync.Mutex
	closed   bool
	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

func NewPublisher(store DeliveryStore, broker Broker, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:  store,
		broker: broker,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/md-rashed-zaman/eventoutbox/libs/outbox"),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Notify requests a run as soon as possible. It never blocks; hints that
// arrive while one is already pending are merged.
func (p *Publisher) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Running reports whether the Run loop is active.
func (p *Publisher) Running() bool { return p.looping.Load() }

// Run drains the outbox once and then on every tick or Notify until ctx is
// done or Close is called.
func (p *Publisher) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.loops.Add(1)
	p.mu.Unlock()
	defer p.loops.Done()

	p.looping.Store(true)
	defer p.looping.Store(false)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Info("outbox publisher started",
		"poll_interval", p.cfg.PollInterval.String(),
		"batch_size", p.cfg.BatchSize,
		"max_retries", p.cfg.MaxRetries,
	)
	p.ProcessOutbox(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			return nil
		case <-ticker.C:
			p.ProcessOutbox(ctx)
		case <-p.wake:
			p.ProcessOutbox(ctx)
		}
	}
}

// ProcessOutbox performs one run. It returns ran=false without touching the
// store when another run is in progress, the cluster lock is held elsewhere,
// or the publisher is closed.
func (p *Publisher) ProcessOutbox(ctx context.Context) (res RunResult, ran bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return res, false
	}
	if !p.running.CompareAndSwap(false, true) {
		p.mu.Unlock()
		runsSkipped.WithLabelValues("in_flight").Inc()
		return res, false
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer func() {
		p.running.Store(false)
		p.inflight.Done()
	}()

	if p.cfg.Lock != nil {
		release, ok, err := p.cfg.Lock.TryLock(ctx)
		if err != nil {
			p.logger.Error("outbox lock failed", "err", err)
			return res, false
		}
		if !ok {
			runsSkipped.WithLabelValues("locked").Inc()
			p.logger.Debug("outbox lock held by another instance")
			return res, false
		}
		defer release()
	}

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "outbox.process")
	defer span.End()
	defer func() { runDuration.Observe(time.Since(start).Seconds()) }()

	records, err := p.store.UnpublishedBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch batch")
		p.logger.Error("outbox fetch failed", "err", err)
		return res, true
	}
	res.Fetched = len(records)
	span.SetAttributes(attribute.Int("outbox.batch_size", len(records)))

	for _, rec := range records {
		if ctx.Err() != nil || p.stopping() {
			break
		}
		switch p.deliver(ctx, rec) {
		case outcomePublished:
			res.Published++
		case outcomeFailed:
			res.Failed++
		case outcomeDeadLettered:
			res.DeadLettered++
		}
	}

	if res.Fetched > 0 {
		p.logger.Info("outbox run complete",
			"fetched", res.Fetched,
			"published", res.Published,
			"failed", res.Failed,
			"dead_lettered", res.DeadLettered,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return res, true
}

func (p *Publisher) deliver(ctx context.Context, rec OutboxRecord) outcome {
	log := p.logger.With("event_id", rec.ID.String(), "event_type", rec.EventType, "aggregate_id", rec.AggregateID)

	if rec.RetryCount >= p.cfg.MaxRetries {
		return p.deadLetter(ctx, rec, log)
	}

	msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	msgCtx, span := p.tracer.Start(msgCtx, "outbox.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", rec.EventType),
			attribute.String("messaging.message.id", rec.ID.String()),
			attribute.Int("outbox.retry_count", rec.RetryCount),
		),
	)
	defer span.End()

	pubCtx, cancel := context.WithTimeout(msgCtx, p.cfg.PublishTimeout)
	start := time.Now()
	err := p.broker.Publish(pubCtx, Message{
		RoutingKey: rec.EventType,
		Key:        rec.AggregateID,
		EventID:    rec.ID.String(),
		Body:       rec.EventData,
	})
	cancel()
	publishDuration.WithLabelValues(rec.EventType).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish")
		if p.stopping() {
			// Close may have shut the broker under us; not a delivery failure.
			log.Info("outbox publish interrupted by shutdown", "err", err)
			return outcomeInterrupted
		}
		publishFailures.WithLabelValues(rec.EventType).Inc()

		count, ierr := p.store.IncrementRetry(ctx, rec.ID, err.Error())
		if ierr != nil {
			log.Error("outbox retry bookkeeping failed", "publish_err", err, "err", ierr)
			return outcomeFailed
		}
		log.Warn("outbox publish failed", "retry_count", count, "err", err)
		if count >= p.cfg.MaxRetries {
			rec.RetryCount = count
			return p.deadLetter(ctx, rec, log)
		}
		return outcomeFailed
	}

	if err := p.store.MarkPublished(ctx, rec.ID); err != nil {
		// The broker has the message; the row stays pending and is sent again.
		log.Error("outbox mark published failed", "err", err)
		return outcomeMarkFailed
	}
	eventsPublished.WithLabelValues(rec.EventType).Inc()
	return outcomePublished
}

func (p *Publisher) deadLetter(ctx context.Context, rec OutboxRecord, log *slog.Logger) outcome {
	if err := p.store.MarkDeadLettered(ctx, rec.ID, ""); err != nil && !errors.Is(err, ErrRecordNotFound) {
		log.Error("outbox dead-letter failed", "err", err)
		return outcomeFailed
	}
	eventsDeadLettered.WithLabelValues(rec.EventType).Inc()
	log.Error("outbox event dead-lettered", "retry_count", rec.RetryCount, "max_retries", p.cfg.MaxRetries)
	return outcomeDeadLettered
}

func (p *Publisher) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Close stops the Run loop, waits for an in-flight run and then closes the
// broker. An in-flight run finishes its current record and skips the rest of
// its batch. If ctx expires first the broker is closed anyway.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.closed = true
	p.mu.Unlock()
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.loops.Wait()
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return p.broker.Close()
	case <-ctx.Done():
		return errors.Join(ctx.Err(), p.broker.Close())
	}
}
