package ratelimit

import (
	"fmt"
	"sync"

	"github.com/patrickwarner/adcortex-go/internal/observability"
)

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int  // Token bucket capacity (burst allowance)
	RefillRate int  // Tokens added per second (sustained rate)
	Enabled    bool // Whether rate limiting is active
}

// Limiter keeps one token bucket per key, created lazily on first use.
// The gateway keys it by session ID; a standalone client uses a single key.
type Limiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	config  Config
	metrics observability.MetricsRegistry
}

// NewLimiter creates a limiter. A nil metrics registry records nothing.
func NewLimiter(config Config, metrics observability.MetricsRegistry) *Limiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Limiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
	}
}

// Enabled reports whether the limiter ever rejects anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.Enabled
}

// Allow reports whether a fetch for key may proceed. When rate limiting is
// disabled it always returns true.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		bucket, exists = l.buckets[key]
		if !exists {
			bucket = NewTokenBucket(l.config.Capacity, l.config.RefillRate)
			l.buckets[key] = bucket
		}
		l.mu.Unlock()
	}

	allowed := bucket.Allow()
	if !allowed {
		l.metrics.IncrementRateLimitHits()
	}
	return allowed
}

// Forget drops the bucket for key, typically when a session ends.
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Stats returns a snapshot of per-key statistics.
func (l *Limiter) Stats() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]Stats, len(l.buckets))
	for key, bucket := range l.buckets {
		hits, total := bucket.Stats()
		hitRate := 0.0
		if total > 0 {
			hitRate = float64(hits) / float64(total)
		}
		stats[key] = Stats{Key: key, Hits: hits, Total: total, HitRate: hitRate}
	}
	return stats
}

// Stats contains rate limiting statistics for a single key.
type Stats struct {
	Key     string  `json:"key"`
	Hits    int64   `json:"hits"`     // rejected requests
	Total   int64   `json:"total"`    // requests processed
	HitRate float64 `json:"hit_rate"` // 0.0-1.0
}

func (s Stats) String() string {
	return fmt.Sprintf("%s: %d/%d limited (%.2f%%)", s.Key, s.Hits, s.Total, s.HitRate*100)
}
