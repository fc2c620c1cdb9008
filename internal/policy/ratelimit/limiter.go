// Package ratelimit paces task starts per source with token buckets shared across requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/voyage-scraper/internal/metrics"
)

// Limiter holds one token bucket per source.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// Config holds rate limiter configuration. A non-positive TasksPerSecond disables pacing.
type Config struct {
	TasksPerSecond float64
	Burst          int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.TasksPerSecond)
	if cfg.TasksPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
	}
}

// Wait blocks until source may start another task or ctx ends.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	if l == nil || l.rps == rate.Inf {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[source] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(source, waited)
	}
	return nil
}
