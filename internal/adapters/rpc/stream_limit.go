package rpc

import (
	"sync"
)

const (
	DefaultMaxStreamsGlobal = 256
	// DefaultMaxStreamsPerPeer of zero leaves peers uncapped below the global limit.
	DefaultMaxStreamsPerPeer = 0
)

type StreamLimitConfig struct {
	MaxGlobal int
	// MaxPerPeer caps one peer's calls in flight; zero disables the per-peer cap.
	MaxPerPeer int
}

func DefaultStreamLimitConfig() StreamLimitConfig {
	return StreamLimitConfig{
		MaxGlobal:  DefaultMaxStreamsGlobal,
		MaxPerPeer: DefaultMaxStreamsPerPeer,
	}
}

// streamLimiter caps calls in flight, globally and per peer.
type streamLimiter struct {
	maxGlobal  int
	maxPerPeer int

	mu     sync.Mutex
	global int
	byPeer map[string]int
}

func newStreamLimiter(cfg StreamLimitConfig) *streamLimiter {
	if cfg.MaxGlobal <= 0 {
		cfg.MaxGlobal = DefaultMaxStreamsGlobal
	}
	return &streamLimiter{
		maxGlobal:  cfg.MaxGlobal,
		maxPerPeer: cfg.MaxPerPeer,
		byPeer:     make(map[string]int),
	}
}

func (l *streamLimiter) acquire(peer string) (func(), bool) {
	if l == nil {
		return func() {}, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.global >= l.maxGlobal {
		return nil, false
	}
	if l.maxPerPeer > 0 && l.byPeer[peer] >= l.maxPerPeer {
		return nil, false
	}
	l.global++
	l.byPeer[peer]++
	var once sync.Once
	return func() {
		once.Do(func() { l.release(peer) })
	}, true
}

func (l *streamLimiter) release(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.global > 0 {
		l.global--
	}
	next := l.byPeer[peer] - 1
	if next <= 0 {
		delete(l.byPeer, peer)
		return
	}
	l.byPeer[peer] = next
}

func (l *streamLimiter) inFlight() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.global
}
