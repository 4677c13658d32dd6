// Package ratelimit is the named token-bucket scheduler guarding outbound
// HTTP calls to external APIs (aggregators, pairs listing, markets,
// security). It replaces the teacher's unimplemented policy/quota/Redis
// scaffolding with a direct golang.org/x/time/rate usage, grounded in the
// RPC Transport's own per-endpoint limiters.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter schedules requests across a set of named services, each with its
// own requests-per-minute budget.
type Limiter struct {
	mu       sync.RWMutex
	buckets  map[string]*rate.Limiter
}

// New builds a Limiter from a service -> requestsPerMinute map.
func New(budgets map[string]int) *Limiter {
	l := &Limiter{buckets: make(map[string]*rate.Limiter, len(budgets))}
	for service, rpm := range budgets {
		l.buckets[service] = newBucket(rpm)
	}
	return l
}

func newBucket(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	burst := requestsPerMinute / 6
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}

// Wait blocks until the named service's bucket admits one request, or ctx is
// cancelled. Unknown services get a generous default bucket on first use.
func (l *Limiter) Wait(ctx context.Context, service string) error {
	l.mu.RLock()
	b, ok := l.buckets[service]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		if b, ok = l.buckets[service]; !ok {
			b = newBucket(120)
			l.buckets[service] = b
		}
		l.mu.Unlock()
	}

	if err := b.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: %s: %w", service, err)
	}
	return nil
}
