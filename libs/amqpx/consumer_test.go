package amqpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

type fakeAcker struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAcker) Ack(uint64, bool) error { a.acked++; return nil }

func (a *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAcker) Reject(uint64, bool) error { return nil }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSettleAcksOnSuccess(t *testing.T) {
	ack := &fakeAcker{}
	headers := amqp.Table{outbox.HeaderEventID: "e-1", outbox.HeaderEventType: "user.created"}
	InjectTraceHeaders(otelx.ContextWithTraceContext(context.Background(),
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", ""), headers)

	var sawTrace string
	settle(context.Background(), amqp.Delivery{Acknowledger: ack, Headers: headers}, func(ctx context.Context, d amqp.Delivery) error {
		sawTrace, _ = otelx.TraceContextStrings(ctx)
		return nil
	}, quietLogger())

	if ack.acked != 1 || ack.nacked != 0 {
		t.Fatalf("acked=%d nacked=%d", ack.acked, ack.nacked)
	}
	if sawTrace == "" {
		t.Fatal("handler did not see the producer trace")
	}
}

func TestSettleRequeuesOnlyFirstFailure(t *testing.T) {
	fail := func(context.Context, amqp.Delivery) error { return errors.New("boom") }

	first := &fakeAcker{}
	settle(context.Background(), amqp.Delivery{Acknowledger: first}, fail, quietLogger())
	if first.nacked != 1 || !first.requeue {
		t.Fatalf("first failure: nacked=%d requeue=%v", first.nacked, first.requeue)
	}

	again := &fakeAcker{}
	settle(context.Background(), amqp.Delivery{Acknowledger: again, Redelivered: true}, fail, quietLogger())
	if again.nacked != 1 || again.requeue {
		t.Fatalf("redelivery failure: nacked=%d requeue=%v", again.nacked, again.requeue)
	}
}

func TestDeliveryMetaFallbacks(t *testing.T) {
	id, typ := DeliveryMeta(amqp.Delivery{MessageId: "e-9", RoutingKey: "invitation.created"})
	if id != "e-9" || typ != "invitation.created" {
		t.Fatalf("meta = %s/%s", id, typ)
	}
	id, typ = DeliveryMeta(amqp.Delivery{
		Headers:   amqp.Table{outbox.HeaderEventID: "h-1", outbox.HeaderEventType: "user.deleted"},
		MessageId: "e-9", Type: "ignored",
	})
	if id != "h-1" || typ != "user.deleted" {
		t.Fatalf("meta = %s/%s", id, typ)
	}
}
