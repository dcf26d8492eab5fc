package rpc

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/eigr/permastate-go/pkg/models"
)

const (
	// MaxRecvMsgSize bounds a single inbound message.
	MaxRecvMsgSize = 4 << 20

	DefaultShutdownTimeout = 5 * time.Second
)

// Server is a gRPC server with no registered services; the router receives
// every call.
type Server struct {
	grpc            *grpc.Server
	shutdownTimeout time.Duration
}

func NewServer(router *Router, opts ...grpc.ServerOption) *Server {
	base := []grpc.ServerOption{
		grpc.UnknownServiceHandler(router.HandleStream),
		grpc.ForceServerCodec(models.Codec{}),
		grpc.MaxRecvMsgSize(MaxRecvMsgSize),
	}
	return &Server{
		grpc:            grpc.NewServer(append(base, opts...)...),
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// Serve accepts on lis until the server is stopped. A stop is not an error.
func (s *Server) Serve(lis net.Listener) error {
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Run serves lis until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Shutdown waits for in-flight calls up to the shutdown timeout, then closes
// remaining connections.
func (s *Server) Shutdown() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.grpc.Stop()
		<-done
	}
}
