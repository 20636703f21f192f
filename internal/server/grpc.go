package server

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported by the action server.
const ServiceName = "actioncards.Engine"

// GRPCService serves the standard gRPC health protocol. The engine reports
// SERVING once content is loaded and NOT_SERVING during shutdown.
type GRPCService struct {
	addr   string
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewGRPCService creates a GRPCService listening on addr.
//
// Precondition: logger must be non-nil.
// Postcondition: Both the overall and ServiceName status start as NOT_SERVING.
func NewGRPCService(addr string, logger *zap.Logger) *GRPCService {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCService{addr: addr, server: srv, health: hs, logger: logger}
}

// SetServing flips the reported status of the engine.
func (g *GRPCService) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Start listens on the configured address and serves until Stop.
func (g *GRPCService) Start() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.addr, err)
	}
	return g.Serve(lis)
}

// Serve serves on lis until Stop.
func (g *GRPCService) Serve(lis net.Listener) error {
	g.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return g.server.Serve(lis)
}

// Stop reports NOT_SERVING and drains in-flight calls.
func (g *GRPCService) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
