package database

import (
	"context"
	"fmt"
	"time"

	"escrow_trade_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CreateGRPCClient create grpc client and wait until READY or ctx done
func CreateGRPCClient(ctx context.Context, grpcIP string) (*grpc.ClientConn, error) {
	client, err := grpc.NewClient(grpcIP, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", grpcIP, err)
	}

	client.Connect()
	for {
		state := client.GetState()
		logger.Log.Debug("grpc connection state", zap.String("addr", grpcIP), zap.String("state", state.String()))
		if state == connectivity.Ready {
			return client, nil
		}
		if !client.WaitForStateChange(ctx, state) {
			client.Close()
			return nil, fmt.Errorf("grpc %s not READY: %w", grpcIP, ctx.Err())
		}
	}
}

// CheckGRPCHealth query the standard health service, service "" is the whole server
func CheckGRPCHealth(ctx context.Context, grpcIP, service string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := CreateGRPCClient(ctx, grpcIP)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("grpc health check: %w", err)
	}
	return resp.GetStatus().String(), nil
}
