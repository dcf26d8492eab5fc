package rpc

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/eigr/permastate-go/internal/domains/rpckit"
)

const HealthService = "grpc.health.v1.Health"

// HealthHandler answers grpc.health.v1.Health/Check for the routed services.
// Watch is not offered.
type HealthHandler struct {
	services map[string]struct{}
	draining atomic.Bool
}

// NewHealthHandler reports SERVING for the empty name, for itself and for every
// name in services.
func NewHealthHandler(services ...string) *HealthHandler {
	known := map[string]struct{}{"": {}, HealthService: {}}
	for _, name := range services {
		known[name] = struct{}{}
	}
	return &HealthHandler{services: known}
}

func (h *HealthHandler) ServiceName() string { return HealthService }

func (h *HealthHandler) Handle(method string, stream grpc.ServerStream) error {
	if method != "Check" {
		return rpckit.Unimplemented(fmt.Sprintf("method %s not found on %s", method, HealthService)).Err()
	}
	var req healthpb.HealthCheckRequest
	if err := stream.RecvMsg(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return rpckit.InvalidRequest("missing request message").Err()
		}
		return rpckit.ServiceError(codes.Internal, err).Err()
	}
	resp, rpcErr := h.Check(req.GetService())
	if rpcErr != nil {
		return rpcErr.Err()
	}
	return stream.SendMsg(resp)
}

func (h *HealthHandler) Check(service string) (*healthpb.HealthCheckResponse, *rpckit.Error) {
	if _, ok := h.services[service]; !ok {
		return nil, &rpckit.Error{Code: codes.NotFound, Message: "unknown service"}
	}
	if h.draining.Load() {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// Shutdown makes every subsequent Check report NOT_SERVING.
func (h *HealthHandler) Shutdown() {
	h.draining.Store(true)
}

func (h *HealthHandler) Serving() bool {
	return !h.draining.Load()
}
