package rpc

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/eigr/permastate-go/internal/domains/rpckit"
	"github.com/eigr/permastate-go/internal/platform/privacylog"
	"github.com/eigr/permastate-go/internal/platform/ratelimiter"
)

type RouterConfig struct {
	Logger      *slog.Logger
	Metrics     *Metrics
	RateLimiter *ratelimiter.MapLimiter
	Streams     StreamLimitConfig
	Now         func() time.Time
}

// Router is the single entry point of the gRPC server. Every inbound stream is
// matched against the route table by the service segment of its path.
type Router struct {
	table   *RouteTable
	logger  *slog.Logger
	metrics *Metrics
	limiter *ratelimiter.MapLimiter
	streams *streamLimiter
	now     func() time.Time
}

func NewRouter(table *RouteTable, cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		table:   table,
		logger:  logger,
		metrics: cfg.Metrics,
		limiter: cfg.RateLimiter,
		streams: newStreamLimiter(cfg.Streams),
		now:     now,
	}
}

// HandleStream has the signature of grpc.StreamHandler so it can be installed
// with grpc.UnknownServiceHandler.
func (r *Router) HandleStream(_ any, stream grpc.ServerStream) error {
	started := r.now()
	ctx := stream.Context()
	fullMethod, _ := grpc.MethodFromServerStream(stream)
	logger := r.logger.With("call_id", uuid.NewString(), "path", fullMethod)

	service, method, err := ParseFullMethod(fullMethod)
	if err != nil {
		logger.Warn("rpc rejected", "reason", err)
		r.metrics.observe(unregisteredLabel, codes.InvalidArgument, r.now().Sub(started))
		return invalidRequest(err)
	}
	handler, found := r.table.Lookup(service)
	label := service
	if !found {
		label = unregisteredLabel
	}

	peer := peerKey(ctx)
	if !r.limiter.Allow(peer, started) {
		logger.Warn("rpc rejected", "reason", "rate limited", "peer", peer)
		r.metrics.observe(label, codes.ResourceExhausted, r.now().Sub(started))
		return rateLimited("too many requests")
	}
	release, ok := r.streams.acquire(peer)
	if !ok {
		logger.Warn("rpc rejected", "reason", "too many concurrent calls", "peer", peer)
		r.metrics.observe(label, codes.ResourceExhausted, r.now().Sub(started))
		return rateLimited("too many concurrent calls")
	}
	r.metrics.setInFlight(r.streams.inFlight())
	defer func() {
		release()
		r.metrics.setInFlight(r.streams.inFlight())
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		md, _ := metadata.FromIncomingContext(ctx)
		logger.Debug("rpc metadata", metadataAttr(md))
	}

	if !found {
		logger.Warn("rpc rejected", "reason", "unimplemented service", "service", service)
		r.metrics.observe(label, codes.Unimplemented, r.now().Sub(started))
		return unimplementedService(service)
	}

	logger.Info("rpc request", "service", service, "method", method, "peer", peer)
	err = r.dispatch(logger, handler, method, stream)
	elapsed := r.now().Sub(started)
	code := status.Code(err)
	r.metrics.observe(label, code, elapsed)
	if err != nil {
		logger.Error("rpc failed", "service", service, "method", method, "rpc_code", code.String(), "error", err, "latency_ms", elapsed.Milliseconds())
		return err
	}
	logger.Info("rpc response", "service", service, "method", method, "latency_ms", elapsed.Milliseconds())
	return nil
}

func (r *Router) dispatch(logger *slog.Logger, h Handler, method string, stream grpc.ServerStream) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("handler panic", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			err = rpckit.Internal("internal error").Err()
		}
	}()
	return h.Handle(method, stream)
}

// metadataAttr renders request metadata as one group with sensitive keys redacted.
func metadataAttr(md metadata.MD) slog.Attr {
	keys := make([]string, 0, len(md))
	for key := range md {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, key := range keys {
		args = append(args, key, strings.Join(md[key], ","))
	}
	return slog.Group("metadata", privacylog.SanitizeArgs(args...)...)
}
