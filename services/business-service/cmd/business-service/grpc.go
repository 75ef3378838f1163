package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptzone/libs/config"
	"github.com/md-rashed-zaman/apptzone/libs/db"
	"github.com/md-rashed-zaman/apptzone/libs/grpcx"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// startGrpcServer serves the standard health service. Status follows the database so
// booking-service readiness reflects whether schedules can be read.
func startGrpcServer(ctx context.Context, logger *slog.Logger, pool *db.Pool) error {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	srv, hs := grpcx.NewServer(logger)
	if err := grpcx.Serve(ctx, logger, srv, hs, ":"+port); err != nil {
		return err
	}
	go watchDatabase(ctx, logger, hs, db.ReadyCheck(pool))
	return nil
}

var dbWatchInterval = 10 * time.Second

func watchDatabase(ctx context.Context, logger *slog.Logger, hs *health.Server, check func(context.Context) error) {
	ticker := time.NewTicker(dbWatchInterval)
	defer ticker.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := check(pingCtx)
			cancel()
			if ok := err == nil; ok != serving {
				serving = ok
				status := healthpb.HealthCheckResponse_SERVING
				if !ok {
					status = healthpb.HealthCheckResponse_NOT_SERVING
					logger.Warn("database unreachable; reporting not serving", "err", err)
				}
				hs.SetServingStatus("", status)
			}
		}
	}
}
