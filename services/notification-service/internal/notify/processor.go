// Package notify turns outbox events delivered by the broker into
// notifications, processing each event id at most once.
package notify

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/eventoutbox/libs/amqpx"
	"github.com/md-rashed-zaman/eventoutbox/libs/db"
	"github.com/md-rashed-zaman/eventoutbox/libs/kafkax"
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

type Inbox interface {
	Claim(ctx context.Context, q db.Querier, eventID, eventType string) (bool, error)
}

// Handler performs the side effect for one event. Returning an error rolls
// back the inbox claim so the broker redelivers the event.
type Handler func(ctx context.Context, ev outbox.DomainEvent) error

type Processor struct {
	tx       db.TxBeginner
	inbox    Inbox
	catalog  *outbox.Catalog
	handlers map[string]Handler
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewProcessor(tx db.TxBeginner, inbox Inbox, catalog *outbox.Catalog, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		tx:       tx,
		inbox:    inbox,
		catalog:  catalog,
		handlers: make(map[string]Handler),
		logger:   logger,
		tracer:   otel.Tracer("notification-service/notify"),
	}
}

// Handle registers h for eventType, replacing any earlier handler.
func (p *Processor) Handle(eventType string, h Handler) {
	p.handlers[eventType] = h
}

// Process decodes body and runs its handler. Messages that cannot be decoded
// or have no handler are logged and acknowledged.
func (p *Processor) Process(ctx context.Context, eventID string, body []byte) error {
	ctx, span := p.tracer.Start(ctx, "inbox.process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	ev, err := outbox.FromRecord(p.catalog, body)
	if err != nil {
		p.logger.WarnContext(ctx, "dropping undecodable message", "event_id", eventID, "err", err)
		eventsTotal.WithLabelValues("unknown", resultUndecodable).Inc()
		return nil
	}
	if eventID == "" {
		eventID = ev.EventID.String()
	}
	span.SetAttributes(
		attribute.String("event.id", eventID),
		attribute.String("event.type", ev.Type),
	)

	h, ok := p.handlers[ev.Type]
	if !ok {
		p.logger.DebugContext(ctx, "no handler for event", "event_id", eventID, "event_type", ev.Type)
		eventsTotal.WithLabelValues(ev.Type, resultIgnored).Inc()
		return nil
	}

	duplicate := false
	err = db.WithTx(ctx, p.tx, func(tx pgx.Tx) error {
		claimed, err := p.inbox.Claim(ctx, tx, eventID, ev.Type)
		if err != nil {
			return err
		}
		if !claimed {
			duplicate = true
			return nil
		}
		return h(ctx, ev)
	})
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		eventsTotal.WithLabelValues(ev.Type, resultFailed).Inc()
		return err
	case duplicate:
		p.logger.InfoContext(ctx, "duplicate event skipped", "event_id", eventID, "event_type", ev.Type)
		eventsTotal.WithLabelValues(ev.Type, resultDuplicate).Inc()
	default:
		p.logger.InfoContext(ctx, "event processed", "event_id", eventID, "event_type", ev.Type)
		eventsTotal.WithLabelValues(ev.Type, resultHandled).Inc()
	}
	return nil
}

func (p *Processor) AMQPHandler() amqpx.Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		eventID, _ := amqpx.DeliveryMeta(d)
		return p.Process(ctx, eventID, d.Body)
	}
}

func (p *Processor) KafkaHandler() kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		return p.Process(ctx, kafkax.ExtractEventMeta(msg).EventID, msg.Value)
	}
}
