package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/patrickwarner/adcortex-go/internal/observability"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_Allow(t *testing.T) {
	bucket := NewTokenBucket(5, 1)

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}

	if bucket.Allow() {
		t.Error("Expected 6th request to be blocked")
	}

	hits, total := bucket.Stats()
	if hits != 1 {
		t.Errorf("Expected 1 hit, got %d", hits)
	}
	if total != 6 {
		t.Errorf("Expected 6 total requests, got %d", total)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	bucket := newTokenBucketWithClock(2, 10, clock.Now)

	bucket.Allow()
	bucket.Allow()
	if bucket.Allow() {
		t.Fatal("Expected request to be blocked")
	}

	clock.Advance(200 * time.Millisecond) // 2 tokens at 10/s

	if !bucket.Allow() {
		t.Error("Expected request to be allowed after refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second refilled token to be available")
	}
	if bucket.Allow() {
		t.Error("Expected bucket to be empty again")
	}
}

func TestTokenBucket_RefillCapsAtCapacity(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	bucket := newTokenBucketWithClock(3, 1, clock.Now)

	for i := 0; i < 3; i++ {
		bucket.Allow()
	}
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if bucket.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("Expected 3 allowed after long idle, got %d", allowed)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()
	l := NewLimiter(Config{Capacity: 1, RefillRate: 0, Enabled: false}, metrics)

	for i := 0; i < 10; i++ {
		if !l.Allow("s1") {
			t.Fatal("disabled limiter must always allow")
		}
	}
	if metrics.RateLimitHits != 0 {
		t.Errorf("Expected no hits recorded, got %d", metrics.RateLimitHits)
	}
}

func TestLimiter_PerKeyBuckets(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()
	l := NewLimiter(Config{Capacity: 1, RefillRate: 0, Enabled: true}, metrics)

	if !l.Allow("a") {
		t.Error("first request for a should pass")
	}
	if l.Allow("a") {
		t.Error("second request for a should be limited")
	}
	if !l.Allow("b") {
		t.Error("b has its own bucket")
	}
	if metrics.RateLimitHits != 1 {
		t.Errorf("Expected 1 hit recorded, got %d", metrics.RateLimitHits)
	}

	stats := l.Stats()
	if stats["a"].Hits != 1 || stats["a"].Total != 2 {
		t.Errorf("unexpected stats for a: %+v", stats["a"])
	}
	if stats["a"].HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %f", stats["a"].HitRate)
	}

	l.Forget("a")
	if !l.Allow("a") {
		t.Error("forgotten key should start with a full bucket")
	}
}

func TestLimiter_NilIsPermissive(t *testing.T) {
	var l *Limiter
	if !l.Allow("x") {
		t.Error("nil limiter should allow")
	}
	l.Forget("x")
}
