package kafkax

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topics  []string
	// MaxAttempts bounds handler retries for one message before it is
	// committed and skipped.
	MaxAttempts int
	RetryDelay  time.Duration
}

// messageReader is the subset of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer reads a consumer group and commits each message only after its
// handler has finished with it.
type Consumer struct {
	reader      messageReader
	logger      *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) (*Consumer, error) {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if cfg.GroupID == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("kafka consumer needs a group id and topics")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newConsumer(reader, logger, cfg), nil
}

func newConsumer(reader messageReader, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{reader: reader, logger: logger, maxAttempts: cfg.MaxAttempts, retryDelay: cfg.RetryDelay}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context, handle Handler) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			if !sleep(ctx, c.retryDelay) {
				return
			}
			continue
		}

		if !c.handle(ctx, msg, handle) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// handle retries handler failures. It returns false only when ctx ended
// before the message was dealt with, leaving it uncommitted.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handle Handler) bool {
	meta := ExtractEventMeta(msg)
	msgCtx := ExtractTraceContext(ctx, msg)
	for attempt := 1; ; attempt++ {
		err := handle(msgCtx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= c.maxAttempts {
			c.logger.Error("kafka message skipped after retries",
				"event_id", meta.EventID,
				"event_type", meta.EventType,
				"attempts", attempt,
				"err", err,
			)
			return true
		}
		c.logger.Warn("kafka handler error", "event_id", meta.EventID, "attempt", attempt, "err", err)
		if !sleep(ctx, c.retryDelay) {
			return false
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
