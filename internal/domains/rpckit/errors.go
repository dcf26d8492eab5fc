package rpckit

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const configurationUnavailablePrefix = "configuration unavailable"

// Error is a transport-level RPC error that the gRPC adapters map to a status
// carrying Code and Message.
type Error struct {
	Code    codes.Code
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code.String() + ": " + e.Message
}

// GRPCStatus lets status.FromError and status.Code recognise *Error directly.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// Err converts e to the error returned from a stream handler.
func (e *Error) Err() error {
	if e == nil {
		return nil
	}
	return status.Error(e.Code, e.Message)
}

func InvalidRequest(detail string) *Error {
	msg := "invalid request"
	if detail != "" {
		msg += ": " + detail
	}
	return &Error{Code: codes.InvalidArgument, Message: msg}
}

func Unimplemented(msg string) *Error {
	return &Error{Code: codes.Unimplemented, Message: msg}
}

func ConfigurationUnavailable(err error) *Error {
	msg := err.Error()
	if !strings.HasPrefix(msg, configurationUnavailablePrefix) {
		msg = configurationUnavailablePrefix + ": " + msg
	}
	return &Error{Code: codes.FailedPrecondition, Message: msg}
}

func ResourceExhausted(msg string) *Error {
	return &Error{Code: codes.ResourceExhausted, Message: msg}
}

func Internal(msg string) *Error {
	return &Error{Code: codes.Internal, Message: msg}
}

// ServiceError maps an arbitrary handler error. Errors that already carry a
// gRPC status keep it; everything else becomes code.
func ServiceError(code codes.Code, err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return &Error{Code: st.Code(), Message: st.Message()}
	}
	return &Error{Code: code, Message: err.Error()}
}
