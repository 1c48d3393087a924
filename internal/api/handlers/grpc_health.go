package handlers

import (
	"context"
	"net"
	"time"

	"escrow_trade_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth 將 HealthHandler 的結果同步到標準 gRPC health service
type GRPCHealth struct {
	server   *grpc.Server
	status   *health.Server
	checks   *HealthHandler
	interval time.Duration
}

// NewGRPCHealth create gRPC server with only the health service registered
func NewGRPCHealth(checks *HealthHandler, interval time.Duration) *GRPCHealth {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	g := &GRPCHealth{
		server:   grpc.NewServer(),
		status:   health.NewServer(),
		checks:   checks,
		interval: interval,
	}
	healthpb.RegisterHealthServer(g.server, g.status)
	return g
}

// Refresh run checks once and update the serving status
func (g *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if _, ok := g.checks.Run(ctx); !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.status.SetServingStatus("", st)
	return st
}

// Serve blocks until ctx is done or the listener fails
func (g *GRPCHealth) Serve(ctx context.Context, lis net.Listener) error {
	g.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.status.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				g.Refresh(ctx)
			}
		}
	}()

	logger.Log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	return g.server.Serve(lis)
}
