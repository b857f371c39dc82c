package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"ediportal.org/internal/obs"
)

// PortalServiceName is the service name reported by the gRPC health endpoint.
// An empty name asks for overall health and is answered the same way.
const PortalServiceName = "ediportal.Portal"

// GRPCHealth answers grpc.health.v1 probes from the readiness checks.
type GRPCHealth struct {
	healthpb.UnimplementedHealthServer

	readiness ReadyProbe
}

func NewGRPCHealth(r ReadyProbe) *GRPCHealth {
	return &GRPCHealth{readiness: r}
}

func (h *GRPCHealth) status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if err := h.readiness.Check(ctx); err != nil {
		obs.Logger().WithError(err).Warn("grpc health: not serving")
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Check evaluates readiness. Unknown services are NotFound.
func (h *GRPCHealth) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", PortalServiceName:
		return &healthpb.HealthCheckResponse{Status: h.status(ctx)}, nil
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
}

func (h *GRPCHealth) List(ctx context.Context, _ *healthpb.HealthListRequest) (*healthpb.HealthListResponse, error) {
	st := h.status(ctx)
	return &healthpb.HealthListResponse{
		Statuses: map[string]*healthpb.HealthCheckResponse{
			"":                {Status: st},
			PortalServiceName: {Status: st},
		},
	}, nil
}

// NewGRPCServer returns a server with the health service registered.
func NewGRPCServer(r ReadyProbe, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewGRPCHealth(r))
	return srv
}
