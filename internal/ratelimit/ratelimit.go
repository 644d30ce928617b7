// Package ratelimit provides the per-provider token-bucket rate limiter that a
// provider stream consults before opening a new connection. It is a thin,
// cancellable wrapper around golang.org/x/time/rate — the same package the
// adaptive rate limiting patterns in the wider Go agent-framework ecosystem build on.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limits describes the token-bucket shape for one provider: RequestsPerSecond is the
// steady-state refill rate, Burst is the bucket capacity (how many requests may fire
// back-to-back before the rate kicks in).
type Limits struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultLimits is used for any provider that hasn't been configured explicitly.
var DefaultLimits = Limits{RequestsPerSecond: 5, Burst: 5}

// Limiter holds one token-bucket limiter per provider_id, created lazily on first use.
type Limiter struct {
	mu       sync.Mutex
	limits   map[string]Limits
	buckets  map[string]*rate.Limiter
	fallback Limits
}

// New constructs a Limiter. limits maps provider_id to its configured Limits; any
// provider not present there falls back to fallback (DefaultLimits if zero-valued).
func New(limits map[string]Limits, fallback Limits) *Limiter {
	if fallback == (Limits{}) {
		fallback = DefaultLimits
	}
	cloned := make(map[string]Limits, len(limits))
	for k, v := range limits {
		cloned[k] = v
	}
	return &Limiter{
		limits:   cloned,
		buckets:  make(map[string]*rate.Limiter),
		fallback: fallback,
	}
}

// Acquire blocks until providerID's bucket has a token available, or ctx is done. It
// is the suspend point agent.Agent.sendOnce consults before opening a provider
// stream. A nil Limiter never blocks.
func (l *Limiter) Acquire(ctx context.Context, providerID string) error {
	if l == nil {
		return nil
	}
	return l.bucketFor(providerID).Wait(ctx)
}

func (l *Limiter) bucketFor(providerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[providerID]; ok {
		return b
	}

	lim := l.fallback
	if configured, ok := l.limits[providerID]; ok {
		lim = configured
	}
	b := rate.NewLimiter(rate.Limit(lim.RequestsPerSecond), lim.Burst)
	l.buckets[providerID] = b
	return b
}
