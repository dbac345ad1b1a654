package server

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/accel.relay/internal/monitoring"
	"github.com/banshee-data/accel.relay/internal/timeutil"
)

// HealthService is the service name reported alongside the overall status.
const HealthService = "accel.relay.Sensor"

// HealthServer publishes the standard gRPC health protocol. The status is
// SERVING while Ready reports true.
type HealthServer struct {
	Ready    func() bool
	Interval time.Duration
	Clock    timeutil.Clock

	health *health.Server
	grpc   *grpc.Server
	log    *log.Entry
}

// NewHealthServer returns a server that polls ready once a second.
func NewHealthServer(ready func() bool) *HealthServer {
	return &HealthServer{
		Ready:    ready,
		Interval: time.Second,
		Clock:    timeutil.RealClock{},
		health:   health.NewServer(),
		log:      monitoring.Logger("health"),
	}
}

func (h *HealthServer) update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.Ready == nil || h.Ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (h *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return h.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	h.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.update()

	ticker := h.Clock.NewTicker(h.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.health.Shutdown()
				h.grpc.GracefulStop()
				return
			case <-ticker.C():
				h.update()
			}
		}
	}()

	h.log.Infof("gRPC health listening on %s", lis.Addr())
	if err := h.grpc.Serve(lis); err != nil && ctx.Err() == nil {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
