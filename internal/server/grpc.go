package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/openjobspec/ojs-cron-nats/internal/service"
)

// HealthService is the gRPC health service name reported for the cron service.
const HealthService = "ojs.cron.v1.CronService"

// NewGRPCServer creates a gRPC server exposing health and reflection. The
// returned health server starts out NOT_SERVING.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	reflection.Register(srv)
	return srv, healthSrv
}

// HealthStatus maps a service state to a gRPC serving status.
func HealthStatus(state service.State) healthpb.HealthCheckResponse_ServingStatus {
	if state == service.StateOK {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
