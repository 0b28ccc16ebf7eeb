package amqpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

// Consumer reads the outbox queue with manual acks.
type Consumer struct {
	cfg    Config
	logger *slog.Logger
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// DialConsumer connects, declares the same topology as the publisher and
// limits unacked deliveries to prefetch.
func DialConsumer(cfg Config, prefetch int, logger *slog.Logger) (*Consumer, error) {
	cfg = withDefaults(cfg)
	if prefetch <= 0 {
		prefetch = 10
	}
	d := &dialer{cfg: cfg}
	ch, err := d.channel()
	if err != nil {
		_ = d.close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = d.close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, conn: d.conn, ch: ch}, nil
}

// Handler processes one delivery. ctx carries the producer's trace context.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Run consumes until ctx is done. It returns ErrClosed when the broker
// closes the delivery channel.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	deliveries, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	c.logger.Info("amqp consumer started", "queue", c.cfg.Queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			settle(ctx, d, handle, c.logger)
		}
	}
}

// settle acks on success. A failed first delivery is requeued once; a failed
// redelivery is rejected so a poison message cannot loop forever.
func settle(ctx context.Context, d amqp.Delivery, handle Handler, logger *slog.Logger) {
	eventID, eventType := DeliveryMeta(d)
	err := handle(ExtractTraceContext(ctx, d.Headers), d)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Warn("amqp ack failed", "event_id", eventID, "err", ackErr)
		}
		return
	}
	requeue := !d.Redelivered
	logger.Warn("amqp delivery failed",
		"event_id", eventID,
		"event_type", eventType,
		"requeue", requeue,
		"err", err,
	)
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		logger.Warn("amqp nack failed", "event_id", eventID, "err", nackErr)
	}
}

// DeliveryMeta reads the outbox headers, falling back to the message id and
// routing key.
func DeliveryMeta(d amqp.Delivery) (eventID, eventType string) {
	t := tableCarrier(d.Headers)
	eventID = t.Get(outbox.HeaderEventID)
	if eventID == "" {
		eventID = d.MessageId
	}
	eventType = t.Get(outbox.HeaderEventType)
	if eventType == "" {
		eventType = d.Type
	}
	if eventType == "" {
		eventType = d.RoutingKey
	}
	return eventID, eventType
}

func (c *Consumer) Close() error {
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil && !c.conn.IsClosed() {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// Ping reports whether the connection is open.
func (c *Consumer) Ping(context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}
