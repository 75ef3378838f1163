package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestWatchDatabase_FlipsStatus(t *testing.T) {
	dbWatchInterval = 20 * time.Millisecond
	t.Cleanup(func() { dbWatchInterval = 10 * time.Second })

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	down := errors.New("connection refused")
	done := make(chan struct{})
	go func() {
		watchDatabase(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), hs, func(context.Context) error { return down })
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING {
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected NOT_SERVING after a failed ping")
}
