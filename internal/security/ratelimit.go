package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate limit bucket kinds.
const (
	KindAuth    = "auth"    // authorization attempts, successful or not
	KindRequest = "request" // authenticated envelope requests
	KindWrite   = "write"   // store/delete/clear actions
)

// RateLimitConfig holds configurable per-minute limits for the envelope
// API. Zero values fall back to defaults; WritesPerMin 0 means the
// write bucket is unlimited.
type RateLimitConfig struct {
	AuthPerMin     int `yaml:"auth_per_min"`
	RequestsPerMin int `yaml:"requests_per_min"`
	WritesPerMin   int `yaml:"writes_per_min"`
}

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		AuthPerMin:     120,
		RequestsPerMin: 600,
		WritesPerMin:   0, // unlimited
	}
}

// RateLimiter implements sliding window rate limiting. Each bucket
// tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.AuthPerMin <= 0 {
		cfg.AuthPerMin = defaults.AuthPerMin
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = defaults.RequestsPerMin
	}

	rl := &RateLimiter{
		now: time.Now,
		buckets: map[string]*bucket{
			KindAuth: {
				window: time.Minute,
				limit:  cfg.AuthPerMin,
			},
			KindRequest: {
				window: time.Minute,
				limit:  cfg.RequestsPerMin,
			},
		},
	}

	if cfg.WritesPerMin > 0 {
		rl.buckets[KindWrite] = &bucket{
			window: time.Minute,
			limit:  cfg.WritesPerMin,
		}
	}

	return rl
}

// Allow checks whether an event of the given kind is allowed.
// Returns nil if allowed, ErrRateLimited if the limit is exceeded.
// Unknown kinds are unlimited.
func (rl *RateLimiter) Allow(kind string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[kind]
	if !ok {
		return nil
	}

	now := rl.now()
	b.evict(now)

	if len(b.events) >= b.limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// evict removes events outside the sliding window. Events are appended
// in chronological order, so a single forward scan finds the boundary.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
