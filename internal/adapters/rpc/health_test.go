package rpc

import (
	"testing"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthHandlerDrains(t *testing.T) {
	h := NewHealthHandler("cloudstate.EntityDiscovery")

	resp, rpcErr := h.Check("")
	if rpcErr != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v %v", resp, rpcErr)
	}
	if _, rpcErr := h.Check("other.Service"); rpcErr == nil || rpcErr.Code != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", rpcErr)
	}

	h.Shutdown()
	if h.Serving() {
		t.Fatal("expected handler to report draining")
	}
	resp, _ = h.Check("cloudstate.EntityDiscovery")
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %v", resp.GetStatus())
	}
}

func TestStreamLimiterReleaseIsIdempotent(t *testing.T) {
	l := newStreamLimiter(StreamLimitConfig{MaxGlobal: 2, MaxPerPeer: 2})
	release, ok := l.acquire("ip:a")
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	release()
	release()
	if got := l.inFlight(); got != 0 {
		t.Fatalf("unexpected in-flight count: %d", got)
	}
	_, _ = l.acquire("ip:a")
	_, _ = l.acquire("ip:b")
	if _, ok := l.acquire("ip:c"); ok {
		t.Fatal("expected global cap to apply")
	}
}
