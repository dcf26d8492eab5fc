package entityserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/eigr/permastate-go/internal/adapters/admin"
	"github.com/eigr/permastate-go/internal/adapters/rpc"
	"github.com/eigr/permastate-go/internal/app"
	"github.com/eigr/permastate-go/internal/domains/discovery"
	discoveryrpc "github.com/eigr/permastate-go/internal/domains/discovery/adapters/rpc"
	"github.com/eigr/permastate-go/pkg/models"
)

// ListenFunc opens a listener; net.Listen is used when none is given.
type ListenFunc func(network, address string) (net.Listener, error)

// Options are the process-level settings that accompany a ServiceConfig.
type Options struct {
	// ReadSchemaPerCall reads the artifact on every Discover instead of once at start.
	ReadSchemaPerCall bool
	SchemaReadTimeout time.Duration
	RateLimit         rpc.RateLimitConfig
	Streams           rpc.StreamLimitConfig
	// AdminAddr enables the admin HTTP server when non-empty.
	AdminAddr string
	Logger    *slog.Logger
	Registry  *prometheus.Registry
	Listen    ListenFunc
}

type StartCommand struct {
	Config  app.ServiceConfig
	Options Options
}

type StartResult struct {
	Instance *Instance
	Err      error
}

// Launcher accepts a single StartCommand for the life of the process.
type Launcher struct {
	started atomic.Bool
}

func NewLauncher() *Launcher {
	return &Launcher{}
}

// Start validates cmd, binds the listener and begins serving. It returns once the
// bind outcome is known. Cancelling ctx stops the instance.
func (l *Launcher) Start(ctx context.Context, cmd StartCommand) (*Instance, error) {
	if !l.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	return start(ctx, cmd)
}

// Issue is Start for callers that prefer to await the outcome. The channel
// receives exactly one result and is then closed.
func (l *Launcher) Issue(ctx context.Context, cmd StartCommand) <-chan StartResult {
	out := make(chan StartResult, 1)
	if !l.started.CompareAndSwap(false, true) {
		out <- StartResult{Err: ErrAlreadyStarted}
		close(out)
		return out
	}
	go func() {
		inst, err := start(ctx, cmd)
		out <- StartResult{Instance: inst, Err: err}
		close(out)
	}()
	return out
}

func start(ctx context.Context, cmd StartCommand) (*Instance, error) {
	cfg, opts := cmd.Config, cmd.Options
	if !cfg.Valid() {
		return nil, fmt.Errorf("%w: build it with app.NewServiceConfig", ErrInvalidConfig)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	listen := opts.Listen
	if listen == nil {
		listen = net.Listen
	}

	schema, err := LoadSchema(cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	// Collectors are registered after both binds succeed; a failed Start leaves
	// the registry untouched.
	lis, adminLis, err := bindListeners(listen, cfg.ListenAddr(), opts.AdminAddr)
	if err != nil {
		return nil, err
	}

	svc := discovery.NewService(cfg, schema, logger, discovery.NewMetrics(registry))
	health := rpc.NewHealthHandler(models.EntityDiscoveryService)
	table, err := rpc.NewRouteTable(discoveryrpc.NewHandler(svc), health)
	if err != nil {
		closeListeners(lis, adminLis)
		return nil, err
	}
	router := rpc.NewRouter(table, rpc.RouterConfig{
		Logger:      logger,
		Metrics:     rpc.NewMetrics(registry),
		RateLimiter: rpc.NewRateLimiter(opts.RateLimit),
		Streams:     opts.Streams,
	})

	var adminServer *admin.Server
	if adminLis != nil {
		adminServer = admin.NewServer(admin.NewHandler(admin.Config{
			Gatherer: registry,
			Ready:    health.Serving,
			Describe: func(ctx context.Context) (any, error) {
				spec, err := svc.Spec(ctx)
				if err != nil {
					return nil, err
				}
				return Describe(spec, table.Services()), nil
			},
			Logger: logger,
		}))
	}

	inst := newInstance(rpc.NewServer(router), health, adminServer, lis, adminLis, logger)
	logger.Info("entity server listening",
		"addr", lis.Addr().String(),
		"service", cfg.ServiceName(),
		"entity_type", cfg.EntityKind().ProtocolName(),
		"persistence_id", cfg.PersistenceID(),
		"routes", table.Services(),
	)
	inst.serve(ctx)
	return inst, nil
}

// bindListeners opens the gRPC listener and, when adminAddr is set, the admin
// listener. On failure nothing is left open.
func bindListeners(listen ListenFunc, addr, adminAddr string) (net.Listener, net.Listener, error) {
	lis, err := listen("tcp", addr)
	if err != nil {
		return nil, nil, &BindError{Addr: addr, Err: err}
	}
	if adminAddr == "" {
		return lis, nil, nil
	}
	adminLis, err := listen("tcp", adminAddr)
	if err != nil {
		_ = lis.Close()
		return nil, nil, &BindError{Addr: adminAddr, Err: err}
	}
	return lis, adminLis, nil
}

func closeListeners(listeners ...net.Listener) {
	for _, lis := range listeners {
		if lis != nil {
			_ = lis.Close()
		}
	}
}

// LoadSchema resolves the artifact path and picks the schema source. A missing
// artifact is not fatal: Discover reports it as configuration unavailable. A path
// that exists but is not a regular file is rejected.
func LoadSchema(cfg app.ServiceConfig, opts Options, logger *slog.Logger) (discovery.SchemaSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := filepath.Abs(cfg.DescriptorPath())
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %w", discovery.ErrConfigurationUnavailable, cfg.DescriptorPath(), err)
	}
	perCall := discovery.FileSchema{Path: path, Timeout: opts.SchemaReadTimeout}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("schema artifact not found; discovery will fail until it exists", "path", path)
		return perCall, nil
	case err != nil:
		logger.Warn("schema artifact not readable", "path", path, "error", err)
		return perCall, nil
	case !info.Mode().IsRegular():
		return nil, fmt.Errorf("%w: schema artifact %q is not a regular file", discovery.ErrConfigurationUnavailable, path)
	}

	if opts.ReadSchemaPerCall {
		return perCall, nil
	}
	static, err := discovery.Preload(path)
	if err != nil {
		logger.Warn("schema preload failed; reading per call", "path", path, "error", err)
		return perCall, nil
	}
	checkDescriptorSet(static, cfg.ServiceName(), path, logger)
	return static, nil
}

func checkDescriptorSet(schema discovery.StaticSchema, serviceName, path string, logger *slog.Logger) {
	data, _ := schema.Load(context.Background())
	summary, err := discovery.InspectDescriptorSet(data)
	if err != nil {
		logger.Warn("schema artifact is not a descriptor set; serving it verbatim", "path", path, "error", err)
		return
	}
	if summary.ResolveError != "" {
		logger.Warn("schema artifact has unresolved imports", "path", path, "error", summary.ResolveError)
	}
	if !summary.HasService(serviceName) {
		logger.Warn("configured service is not declared in the schema artifact", "service", serviceName, "declared", summary.Services)
	}
	logger.Info("schema artifact loaded", "path", path, "bytes", schema.Len(), "files", len(summary.Files))
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
