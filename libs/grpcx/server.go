package grpcx

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer returns a traced gRPC server with the standard health service
// registered. The overall status ("") starts NOT_SERVING.
func NewServer(logger *slog.Logger, extra ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLogInterceptor(logger),
		),
	}
	srv := grpc.NewServer(append(opts, extra...)...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// ReportHealth sets service to SERVING while healthy returns true, checking
// every interval until ctx ends, then marks everything NOT_SERVING.
func ReportHealth(ctx context.Context, hs *health.Server, service string, interval time.Duration, healthy func() bool) {
	if interval <= 0 {
		interval = time.Second
	}
	set := func() {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if healthy() {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(service, st)
	}
	set()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			set()
		}
	}
}
