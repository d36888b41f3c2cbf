package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer registers the health service and reflection (for grpcurl).
func NewGRPCServer(hs *health.Server) *grpc.Server {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	return s
}

// Serve listens on addr until ctx is cancelled, then stops gracefully.
func Serve(ctx context.Context, addr string, s *grpc.Server, logger *slog.Logger) error {
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		return err
	}
	return serveListener(ctx, lis, s, logger)
}

func serveListener(ctx context.Context, lis net.Listener, s *grpc.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("grpc.serve", "addr", lis.Addr().String())
		errCh <- s.Serve(lis)
	}()
	select {
	case <-ctx.Done():
		s.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		logger.Error("gRPC serve error", "error", err)
		return err
	}
}
