package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ShutdownTimeout bounds the graceful shutdown of the listeners.
const ShutdownTimeout = 10 * time.Second

// ListenConfig holds the listen addresses of Serve. An empty GRPCAddr
// disables the gRPC health endpoint.
type ListenConfig struct {
	HTTPAddr string
	GRPCAddr string
	Mode     string // gin mode: debug, release or test
}

// Serve runs the HTTP API and, when configured, a gRPC health service
// until ctx is cancelled or a listener fails.
func (s *Server) Serve(ctx context.Context, cfg ListenConfig) error {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.Logger.Info("HTTP API listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	var healthSrv *health.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = httpSrv.Close()
			return fmt.Errorf("listening on %s: %w", cfg.GRPCAddr, err)
		}
		grpcSrv = grpc.NewServer()
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)
		reflection.Register(grpcSrv)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		go func() {
			s.Logger.Info("gRPC health listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	s.Logger.Info("Shutting down API")
	if healthSrv != nil {
		healthSrv.Shutdown()
		grpcSrv.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("http shutdown: %w", err)
	}
	return serveErr
}
