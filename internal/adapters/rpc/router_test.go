package rpc

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/eigr/permastate-go/internal/platform/ratelimiter"
)

type transportStream struct{ method string }

func (s transportStream) Method() string                  { return s.method }
func (s transportStream) SetHeader(metadata.MD) error     { return nil }
func (s transportStream) SendHeader(metadata.MD) error    { return nil }
func (s transportStream) SetTrailer(md metadata.MD) error { return nil }

type routedStream struct {
	ctx context.Context
}

func (s *routedStream) SetHeader(metadata.MD) error  { return nil }
func (s *routedStream) SendHeader(metadata.MD) error { return nil }
func (s *routedStream) SetTrailer(metadata.MD)       {}
func (s *routedStream) Context() context.Context     { return s.ctx }
func (s *routedStream) SendMsg(any) error            { return nil }
func (s *routedStream) RecvMsg(any) error            { return io.EOF }

func streamFor(path, remote string, md metadata.MD) *routedStream {
	ctx := grpc.NewContextWithServerTransportStream(context.Background(), transportStream{method: path})
	ctx = peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(remote), Port: 40000}})
	if md != nil {
		ctx = metadata.NewIncomingContext(ctx, md)
	}
	return &routedStream{ctx: ctx}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, cfg RouterConfig, handlers ...Handler) *Router {
	t.Helper()
	table, err := NewRouteTable(handlers...)
	require.NoError(t, err)
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	return NewRouter(table, cfg)
}

func TestRouterForwardsToExactMatch(t *testing.T) {
	var gotMethod string
	var gotStream grpc.ServerStream
	h := namedHandler{name: "cloudstate.EntityDiscovery", handle: func(method string, stream grpc.ServerStream) error {
		gotMethod, gotStream = method, stream
		return nil
	}}
	router := newTestRouter(t, RouterConfig{}, h)

	stream := streamFor("/cloudstate.EntityDiscovery/Discover", "10.1.0.1", nil)
	require.NoError(t, router.HandleStream(nil, stream))
	assert.Equal(t, "Discover", gotMethod)
	assert.Same(t, stream, gotStream)
}

func TestRouterRejectsMalformedPath(t *testing.T) {
	router := newTestRouter(t, RouterConfig{})

	err := router.HandleStream(nil, streamFor("no-slash", "10.1.0.1", nil))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRouterRejectsUnregisteredServices(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	router := newTestRouter(t, RouterConfig{Metrics: metrics}, namedHandler{name: "cloudstate.EntityDiscovery"})

	err := router.HandleStream(nil, streamFor("/some.Unregistered/Method", "10.1.0.1", nil))
	assert.ErrorIs(t, err, ErrUnimplementedService)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unimplemented, st.Code())
	assert.Equal(t, "unknown service some.Unregistered", st.Message())

	err = router.HandleStream(nil, streamFor("/cloudstate.eventsourced.EventSourced/handle", "10.1.0.1", nil))
	st, _ = status.FromError(err)
	assert.Equal(t, codes.Unimplemented, st.Code())
	assert.Contains(t, st.Message(), "entity protocol cloudstate.eventsourced.EventSourced")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.calls.WithLabelValues(unregisteredLabel, codes.Unimplemented.String())))
}

func TestRouterRecoversHandlerPanics(t *testing.T) {
	var logs bytes.Buffer
	h := namedHandler{name: "svc.Panics", handle: func(string, grpc.ServerStream) error {
		panic("handler exploded")
	}}
	router := newTestRouter(t, RouterConfig{Logger: slog.New(slog.NewTextHandler(&logs, nil))}, h)

	err := router.HandleStream(nil, streamFor("/svc.Panics/Do", "10.1.0.1", nil))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, logs.String(), "handler exploded")

	err = router.HandleStream(nil, streamFor("/svc.Panics/Do", "10.1.0.1", nil))
	assert.Equal(t, codes.Internal, status.Code(err), "router keeps serving after a panic")
}

func TestRouterDefaultsForwardSidecarBursts(t *testing.T) {
	calls := 0
	h := namedHandler{name: "cloudstate.EntityDiscovery", handle: func(string, grpc.ServerStream) error {
		calls++
		return nil
	}}
	router := newTestRouter(t, RouterConfig{
		RateLimiter: NewRateLimiter(DefaultRateLimitConfig()),
		Streams:     DefaultStreamLimitConfig(),
	}, h)

	for i := 0; i < 200; i++ {
		err := router.HandleStream(nil, streamFor("/cloudstate.EntityDiscovery/Discover", "127.0.0.1", nil))
		require.NoError(t, err, "call %d", i)
	}
	assert.Equal(t, 200, calls)
}

func TestStreamLimiterPerPeerCapIsOptIn(t *testing.T) {
	l := newStreamLimiter(DefaultStreamLimitConfig())
	releases := make([]func(), 0, DefaultMaxStreamsGlobal)
	for i := 0; i < DefaultMaxStreamsGlobal; i++ {
		release, ok := l.acquire("ip:127.0.0.1")
		require.True(t, ok, "acquire %d", i)
		releases = append(releases, release)
	}
	_, ok := l.acquire("ip:127.0.0.1")
	assert.False(t, ok, "global cap still applies")
	for _, release := range releases {
		release()
	}
	assert.Equal(t, 0, l.inFlight())
}

func TestRouterRateLimitsPerPeer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	router := newTestRouter(t, RouterConfig{
		RateLimiter: ratelimiter.New(1, 1, time.Minute),
		Now:         func() time.Time { return now },
	}, namedHandler{name: "svc.A"})

	require.NoError(t, router.HandleStream(nil, streamFor("/svc.A/Do", "10.1.0.1", nil)))
	err := router.HandleStream(nil, streamFor("/svc.A/Do", "10.1.0.1", nil))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	require.NoError(t, router.HandleStream(nil, streamFor("/svc.A/Do", "10.1.0.2", nil)))
}

func TestRouterCapsConcurrentCallsPerPeer(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	h := namedHandler{name: "svc.Slow", handle: func(string, grpc.ServerStream) error {
		entered <- struct{}{}
		<-unblock
		return nil
	}}
	router := newTestRouter(t, RouterConfig{Streams: StreamLimitConfig{MaxGlobal: 10, MaxPerPeer: 1}}, h)

	done := make(chan error, 1)
	go func() { done <- router.HandleStream(nil, streamFor("/svc.Slow/Do", "10.1.0.1", nil)) }()
	<-entered

	err := router.HandleStream(nil, streamFor("/svc.Slow/Do", "10.1.0.1", nil))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	close(unblock)
	require.NoError(t, <-done)
	assert.Equal(t, 0, router.streams.inFlight())
}

func TestRouterLogsMetadataWithoutSecrets(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	router := newTestRouter(t, RouterConfig{Logger: logger}, namedHandler{name: "svc.A"})

	md := metadata.Pairs(
		"authorization", "Bearer hunter2",
		"x-auth", "s3cr3t",
		":authority", "localhost:8080",
		"x-proxy", "cloudstate",
	)
	require.NoError(t, router.HandleStream(nil, streamFor("/svc.A/Do", "10.1.0.1", md)))

	out := logs.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cr3t")
	assert.Contains(t, out, "metadata.:authority=localhost:8080")
	assert.Contains(t, out, "metadata.x-proxy=cloudstate")
}

func TestPeerKeyDropsPort(t *testing.T) {
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 1234}})
	assert.Equal(t, "ip:192.0.2.7", peerKey(ctx))
	assert.Equal(t, "ip:unknown", peerKey(context.Background()))
}
