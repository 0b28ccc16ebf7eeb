package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	ctx := ContextWithTraceContext(context.Background(), parent, "")
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsRemote() {
		t.Fatalf("expected a valid remote span context, got %+v", sc)
	}
	if got := sc.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace id = %s", got)
	}

	tp, ts := TraceContextStrings(ctx)
	if tp != parent {
		t.Fatalf("traceparent = %q, want %q", tp, parent)
	}
	if ts != "" {
		t.Fatalf("tracestate = %q, want empty", ts)
	}
}

func TestContextWithoutTraceparentIsUnchanged(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithTraceContext(ctx, "", "k=v"); got != ctx {
		t.Fatalf("expected the original context back")
	}
}
