package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

type ProducerConfig struct {
	Brokers string
	// Topic pins every message to one topic. Empty routes each event to a
	// topic named after its type.
	Topic        string
	BatchTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes outbox messages to Kafka, keyed by aggregate id so one
// aggregate's events land on one partition.
type Producer struct {
	writer  messageWriter
	topic   string
	brokers string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: w, topic: cfg.Topic, brokers: cfg.Brokers}, nil
}

// Ping verifies a broker is reachable.
func (p *Producer) Ping(ctx context.Context) error {
	return ReadyCheck(p.brokers)(ctx)
}

func (p *Producer) Publish(ctx context.Context, msg outbox.Message) error {
	km := p.message(ctx, msg)
	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.RoutingKey, err)
	}
	return nil
}

func (p *Producer) message(ctx context.Context, msg outbox.Message) kafka.Message {
	km := kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Headers: []kafka.Header{
			{Key: outbox.HeaderEventID, Value: []byte(msg.EventID)},
			{Key: outbox.HeaderEventType, Value: []byte(msg.RoutingKey)},
		},
	}
	// kafka.Writer rejects a per-message topic when its own Topic is set.
	if p.topic == "" {
		km.Topic = msg.RoutingKey
	}
	km.Headers = InjectTraceHeaders(ctx, km.Headers)
	return km
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

var _ outbox.Broker = (*Producer)(nil)
