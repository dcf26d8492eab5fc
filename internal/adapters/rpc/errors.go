package rpc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/eigr/permastate-go/internal/app"
	"github.com/eigr/permastate-go/internal/domains/rpckit"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnimplementedService = errors.New("unimplemented service")
	ErrRateLimited          = errors.New("rate limited")
)

// rejection is returned for calls the router refuses before any handler runs.
// It matches its sentinel with errors.Is and carries the wire status.
type rejection struct {
	kind error
	rpc  *rpckit.Error
}

func (r *rejection) Error() string              { return r.rpc.Message }
func (r *rejection) Unwrap() error              { return r.kind }
func (r *rejection) GRPCStatus() *status.Status { return r.rpc.GRPCStatus() }

// invalidRequest expects err to already read "invalid request: ...".
func invalidRequest(err error) error {
	return &rejection{kind: ErrInvalidRequest, rpc: &rpckit.Error{Code: codes.InvalidArgument, Message: err.Error()}}
}

func unimplementedService(service string) error {
	msg := fmt.Sprintf("unknown service %s", service)
	if app.IsEntityProtocol(service) {
		msg = fmt.Sprintf("entity protocol %s is not implemented by this process", service)
	}
	return &rejection{kind: ErrUnimplementedService, rpc: rpckit.Unimplemented(msg)}
}

func rateLimited(msg string) error {
	return &rejection{kind: ErrRateLimited, rpc: rpckit.ResourceExhausted(msg)}
}
