package security

import (
	"context"
	"sync"
	"time"

	"github.com/raaihank/phi-sentinel/internal/config"
	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 30 * time.Minute
	idleTimeout     = time.Hour
)

// RateLimiter applies a token bucket per client key
type RateLimiter struct {
	enabled bool
	limit   rate.Limit
	burst   int
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter refilling RequestsPerMin tokens per minute
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMin
	}
	return &RateLimiter{
		enabled: cfg.Enabled,
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request from key may proceed
func (r *RateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}
	return r.getBucket(key).limiter.AllowN(r.now(), 1)
}

// Tokens returns the tokens currently available to key
func (r *RateLimiter) Tokens(key string) float64 {
	r.mu.Lock()
	b, ok := r.buckets[key]
	r.mu.Unlock()

	if !ok {
		return float64(r.burst)
	}
	return b.limiter.TokensAt(r.now())
}

func (r *RateLimiter) getBucket(key string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = r.now()
	return b
}

// CleanupOldBuckets removes buckets idle for longer than an hour
func (r *RateLimiter) CleanupOldBuckets() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleTimeout)
	removed := 0
	for key, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine periodically drops idle buckets until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupOldBuckets()
			}
		}
	}()
}
