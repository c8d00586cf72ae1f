package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"saltapi/internal/obs"
)

// HealthServiceName is reported alongside the overall ("") service.
const HealthServiceName = "saltapi.API"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer mirrors HTTP readiness into the standard gRPC health service.
type HealthServer struct {
	readiness readinessChecker
	health    *health.Server
}

// NewHealthServer starts out NOT_SERVING until the first Refresh.
func NewHealthServer(r readinessChecker) *HealthServer {
	h := &HealthServer{readiness: r, health: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Refresh runs the readiness checks once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) error {
	err := h.readiness.Check(ctx)
	if err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes every interval until ctx ends, then marks the service as
// shutting down so watchers drain.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.refreshLogged(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.refreshLogged(ctx)
		}
	}
}

func (h *HealthServer) refreshLogged(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.Refresh(checkCtx); err != nil && ctx.Err() == nil {
		obs.Warn("readiness check failed", map[string]any{"error": err.Error()})
	}
}

func (h *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(HealthServiceName, st)
}
