package kafkax

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

const testTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestProducerRoutesByEventType(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	w := &recordingWriter{}
	p := &Producer{writer: w}
	ctx := otelx.ContextWithTraceContext(context.Background(), testTraceparent, "")

	err := p.Publish(ctx, outbox.Message{RoutingKey: "user.created", Key: "u-1", EventID: "e-1", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "user.created" || string(msg.Key) != "u-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	meta := ExtractEventMeta(msg)
	if meta != (EventMeta{EventID: "e-1", EventType: "user.created"}) {
		t.Fatalf("meta = %+v", meta)
	}
	if got := HeaderValue(msg.Headers, "traceparent"); got != testTraceparent {
		t.Fatalf("traceparent = %q", got)
	}
}

func TestProducerFixedTopicLeavesMessageTopicEmpty(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{writer: w, topic: "domain-events"}

	if err := p.Publish(context.Background(), outbox.Message{RoutingKey: "user.deleted", EventID: "e-2"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if w.msgs[0].Topic != "" {
		t.Fatalf("message topic must be empty with a fixed writer topic, got %q", w.msgs[0].Topic)
	}
	if HeaderValue(w.msgs[0].Headers, outbox.HeaderEventType) != "user.deleted" {
		t.Fatalf("event_type header missing")
	}
}

func TestProducerWrapsWriteErrors(t *testing.T) {
	boom := errors.New("leader not available")
	p := &Producer{writer: &recordingWriter{err: boom}}
	if err := p.Publish(context.Background(), outbox.Message{RoutingKey: "user.created"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestExtractEventMetaFallsBack(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "invitation.created", Key: []byte("agg-3")})
	if meta != (EventMeta{EventType: "invitation.created"}) {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestExtractTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	headers := InjectTraceHeaders(otelx.ContextWithTraceContext(context.Background(), testTraceparent, ""), nil)
	ctx := ExtractTraceContext(context.Background(), kafka.Message{Headers: headers})
	tp, _ := otelx.TraceContextStrings(ctx)
	if tp != testTraceparent {
		t.Fatalf("traceparent = %q", tp)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if !reflect.DeepEqual(got, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Fatalf("SplitBrokers = %v", got)
	}
	if _, err := NewProducer(ProducerConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
