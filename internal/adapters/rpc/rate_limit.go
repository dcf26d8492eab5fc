package rpc

import (
	"context"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc/peer"

	"github.com/eigr/permastate-go/internal/platform/ratelimiter"
)

const (
	DefaultRateLimitRPS   = 30
	DefaultRateLimitBurst = 60

	rateLimitIdleTTL = 10 * time.Minute
)

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// DefaultRateLimitConfig is disabled: the proxy sidecar is normally the only
// peer and carries all traffic. RPS and Burst apply once Enabled is set.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: false,
		RPS:     DefaultRateLimitRPS,
		Burst:   DefaultRateLimitBurst,
	}
}

// NewRateLimiter returns nil when limiting is disabled; a nil limiter allows
// every call.
func NewRateLimiter(cfg RateLimitConfig) *ratelimiter.MapLimiter {
	if !cfg.Enabled {
		return nil
	}
	rps, burst := cfg.RPS, cfg.Burst
	if rps <= 0 {
		rps = DefaultRateLimitRPS
	}
	if burst <= 0 {
		burst = DefaultRateLimitBurst
	}
	return ratelimiter.New(rps, burst, rateLimitIdleTTL)
}

// peerKey identifies the remote host of a call. Ports are dropped so that
// reconnecting clients share one bucket.
func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "ip:unknown"
	}
	remote := strings.TrimSpace(p.Addr.String())
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
