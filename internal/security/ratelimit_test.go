package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{RequestsPerMin: 5})

	for i := range 5 {
		if err := rl.Allow(KindRequest); err != nil {
			t.Fatalf("Allow(%d) returned error: %v", i, err)
		}
	}

	// 6th should be denied.
	if err := rl.Allow(KindRequest); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMin: 2})
	rl.now = func() time.Time { return now }

	_ = rl.Allow(KindRequest)
	_ = rl.Allow(KindRequest)

	if err := rl.Allow(KindRequest); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit")
	}

	// Advance past the window.
	now = now.Add(61 * time.Second)

	if err := rl.Allow(KindRequest); err != nil {
		t.Fatalf("expected allow after window, got %v", err)
	}
}

func TestRateLimiter_AuthBucket(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{AuthPerMin: 3})

	for range 3 {
		if err := rl.Allow(KindAuth); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := rl.Allow(KindAuth); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit for auth")
	}

	// Request bucket is independent of the auth bucket.
	if err := rl.Allow(KindRequest); err != nil {
		t.Fatalf("request bucket affected by auth limit: %v", err)
	}
}

func TestRateLimiter_WriteBucketOptional(t *testing.T) {
	t.Parallel()

	// Without WritesPerMin the write kind is unlimited.
	rl := NewRateLimiter(RateLimitConfig{})
	for range 1000 {
		if err := rl.Allow(KindWrite); err != nil {
			t.Fatalf("unexpected write limit: %v", err)
		}
	}

	rl = NewRateLimiter(RateLimitConfig{WritesPerMin: 2})
	_ = rl.Allow(KindWrite)
	_ = rl.Allow(KindWrite)
	if err := rl.Allow(KindWrite); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected write limit")
	}
}

func TestRateLimiter_UnknownKind(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})
	if err := rl.Allow("unknown_kind"); err != nil {
		t.Fatalf("expected nil for unknown kind, got %v", err)
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})

	if got := rl.buckets[KindAuth].limit; got != 120 {
		t.Errorf("default auth limit = %d, want 120", got)
	}
	if got := rl.buckets[KindRequest].limit; got != 600 {
		t.Errorf("default request limit = %d, want 600", got)
	}
	if _, ok := rl.buckets[KindWrite]; ok {
		t.Error("write bucket present without WritesPerMin")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{RequestsPerMin: 1000})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rl.Allow(KindRequest)
		}()
	}
	wg.Wait()
}
