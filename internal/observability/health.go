package observability

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RelayService is the name reported by the gRPC health service.
const RelayService = "gps.relay"

// Health exposes the standard gRPC health protocol. The relay starts
// NOT_SERVING and flips once its store is reachable.
type Health struct {
	srv    *grpc.Server
	status *health.Server
}

func NewHealth() *Health {
	status := health.NewServer()
	status.SetServingStatus(RelayService, healthpb.HealthCheckResponse_NOT_SERVING)
	status.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, status)
	return &Health{srv: srv, status: status}
}

func (h *Health) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus(RelayService, st)
	h.status.SetServingStatus("", st)
}

// Serve blocks on ln until ctx is cancelled.
func (h *Health) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		h.status.Shutdown()
		h.srv.GracefulStop()
	}()
	if err := h.srv.Serve(ln); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func (h *Health) ListenAndServe(ctx context.Context, port string) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("health listen: %w", err)
	}
	return h.Serve(ctx, ln)
}
