package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/eigr/permastate-go/internal/domains/discovery"
	"github.com/eigr/permastate-go/internal/domains/rpckit"
	"github.com/eigr/permastate-go/pkg/models"
)

// DiscoveryService is the subset of *discovery.Service the transport needs.
type DiscoveryService interface {
	Discover(ctx context.Context, info *models.ProxyInfo) (*models.EntitySpec, error)
	ReportError(ctx context.Context, report *models.UserFunctionError) error
}

// Handler serves cloudstate.EntityDiscovery on a raw server stream.
type Handler struct {
	service DiscoveryService
}

func NewHandler(service DiscoveryService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ServiceName() string {
	return models.EntityDiscoveryService
}

func (h *Handler) Handle(method string, stream grpc.ServerStream) error {
	switch method {
	case models.DiscoverMethod:
		var info models.ProxyInfo
		if rpcErr := recvRequest(stream, &info); rpcErr != nil {
			return rpcErr.Err()
		}
		spec, err := h.service.Discover(stream.Context(), &info)
		if err != nil {
			return mapServiceError(err)
		}
		return stream.SendMsg(spec)
	case models.ReportErrorMethod:
		var report models.UserFunctionError
		if rpcErr := recvRequest(stream, &report); rpcErr != nil {
			return rpcErr.Err()
		}
		if err := h.service.ReportError(stream.Context(), &report); err != nil {
			return mapServiceError(err)
		}
		return stream.SendMsg(&emptypb.Empty{})
	default:
		return rpckit.Unimplemented(fmt.Sprintf("method %s not found on %s", method, models.EntityDiscoveryService)).Err()
	}
}

// recvRequest reads exactly one request frame and decodes it into dst.
func recvRequest(stream grpc.ServerStream, dst models.Message) *rpckit.Error {
	var frame models.RawFrame
	if err := stream.RecvMsg(&frame); err != nil {
		if errors.Is(err, io.EOF) {
			return rpckit.InvalidRequest("missing request message")
		}
		return rpckit.ServiceError(codes.Internal, err)
	}
	if err := dst.UnmarshalWire(frame); err != nil {
		return rpckit.InvalidRequest(err.Error())
	}
	return nil
}

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, discovery.ErrConfigurationUnavailable):
		return rpckit.ConfigurationUnavailable(err).Err()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return rpckit.ServiceError(codes.Internal, err).Err()
	}
}
