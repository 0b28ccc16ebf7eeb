package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/md-rashed-zaman/eventoutbox/libs/httpx"
)

func startTestServer(t *testing.T) (healthpb.HealthClient, func(context.Context, bool)) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, hs := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet", DialOptions{},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	var running atomic.Bool
	report := func(ctx context.Context, up bool) {
		running.Store(up)
		go ReportHealth(ctx, hs, "", 5*time.Millisecond, running.Load)
	}
	return healthpb.NewHealthClient(conn), report
}

func waitStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err == nil && resp.GetStatus() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("health never reached %s", want)
}

func TestHealthFollowsRunningState(t *testing.T) {
	client, report := startTestServer(t)
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	report(ctx, true)
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)
}

func TestRequestIDRoundTrip(t *testing.T) {
	client, _ := startTestServer(t)

	var header metadata.MD
	ctx := httpx.ContextWithRequestID(context.Background(), "req-42")
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}, grpc.Header(&header)); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := header.Get(RequestIDMetadataKey); len(got) != 1 || got[0] != "req-42" {
		t.Fatalf("request id header = %v", got)
	}
}
