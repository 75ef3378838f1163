package grpcx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer returns a gRPC server with tracing, call logging and the standard health
// service registered. The health status of service "" starts SERVING.
func NewServer(logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(logger)),
	}, opts...)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// Serve runs srv on addr until ctx is done, then drains it.
func Serve(ctx context.Context, logger *slog.Logger, srv *grpc.Server, hs *health.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()
	return nil
}

// HealthCheck returns a readiness check that asks addr's health service for service.
// The connection is dialed lazily and reused.
func HealthCheck(addr, service string) func(context.Context) error {
	var (
		mu     sync.Mutex
		client healthpb.HealthClient
	)
	return func(ctx context.Context) error {
		mu.Lock()
		if client == nil {
			conn, err := Dial(addr, DialOptions{})
			if err != nil {
				mu.Unlock()
				return err
			}
			client = healthpb.NewHealthClient(conn)
		}
		c := client
		mu.Unlock()

		resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("%s is %s", addr, resp.GetStatus())
		}
		return nil
	}
}
