package entityserver

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eigr/permastate-go/internal/adapters/admin"
	"github.com/eigr/permastate-go/internal/adapters/rpc"
)

const adminShutdownTimeout = 5 * time.Second

// Instance is a running entity server.
type Instance struct {
	server   *rpc.Server
	health   *rpc.HealthHandler
	admin    *admin.Server
	lis      net.Listener
	adminLis net.Listener
	logger   *slog.Logger

	done      chan struct{}
	err       error
	stopOnce  sync.Once
	adminOnce sync.Once
}

func newInstance(server *rpc.Server, health *rpc.HealthHandler, adminServer *admin.Server, lis, adminLis net.Listener, logger *slog.Logger) *Instance {
	return &Instance{
		server:   server,
		health:   health,
		admin:    adminServer,
		lis:      lis,
		adminLis: adminLis,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (i *Instance) serve(ctx context.Context) {
	if i.admin != nil {
		go func() {
			if err := i.admin.Serve(i.adminLis); err != nil {
				i.logger.Error("admin server failed", "error", err)
			}
		}()
	}
	go func() {
		err := i.server.Serve(i.lis)
		i.stopAdmin()
		if err != nil {
			i.logger.Error("entity server stopped", "error", err)
		} else {
			i.logger.Info("entity server stopped")
		}
		i.err = err
		close(i.done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			i.Stop()
		case <-i.done:
		}
	}()
}

// Addr is the bound gRPC address, useful when the configured port was chosen by
// the listener.
func (i *Instance) Addr() net.Addr { return i.lis.Addr() }

// AdminAddr is nil when the admin server is disabled.
func (i *Instance) AdminAddr() net.Addr {
	if i.adminLis == nil {
		return nil
	}
	return i.adminLis.Addr()
}

// Wait blocks until the server stops and returns the serve error, if any.
func (i *Instance) Wait() error {
	<-i.done
	return i.err
}

// Done is closed once the server has stopped.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Stop marks the server as draining, waits for in-flight calls and returns once
// serving has ended. It is safe to call more than once.
func (i *Instance) Stop() {
	i.stopOnce.Do(func() {
		i.health.Shutdown()
		i.server.Shutdown()
	})
	<-i.done
}

func (i *Instance) stopAdmin() {
	if i.admin == nil {
		return
	}
	i.adminOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		if err := i.admin.Shutdown(ctx); err != nil {
			i.logger.Warn("admin server shutdown", "error", err)
		}
	})
}
