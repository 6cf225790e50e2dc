package security

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate limit kinds. A key passed to AllowKey is "<kind>:<scope>", for
// example "send:whatsapp-main"; every scope gets its own bucket.
const (
	KindSend    = "send"
	KindInbound = "inbound"
	KindWebhook = "webhook"
	KindLogin   = "login"
	// KindAuth counts control API requests per client address.
	KindAuth = "auth"
)

// RateLimitConfig holds configurable rate limits. A zero field takes the
// default; a negative field disables that kind.
type RateLimitConfig struct {
	SendsPerMin    int `yaml:"sends_per_min"`
	InboundPerMin  int `yaml:"inbound_per_min"`
	WebhooksPerMin int `yaml:"webhooks_per_min"`
	LoginsPerHour  int `yaml:"logins_per_hour"`
	AuthPerMin     int `yaml:"auth_per_min"`
	// MaxKeys bounds the number of live buckets. Idle buckets are evicted
	// first when the bound is reached.
	MaxKeys int `yaml:"max_keys"`
}

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		SendsPerMin:    60,
		InboundPerMin:  600,
		WebhooksPerMin: 1200,
		LoginsPerHour:  10,
		AuthPerMin:     120,
		MaxKeys:        4096,
	}
}

type limit struct {
	window time.Duration
	n      int
}

// RateLimiter implements sliding window rate limiting per key.
// Each bucket tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]limit
	buckets map[string]*bucket
	config  RateLimitConfig
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
	if cfg.SendsPerMin == 0 {
		cfg.SendsPerMin = defaults.SendsPerMin
	}
	if cfg.InboundPerMin == 0 {
		cfg.InboundPerMin = defaults.InboundPerMin
	}
	if cfg.WebhooksPerMin == 0 {
		cfg.WebhooksPerMin = defaults.WebhooksPerMin
	}
	if cfg.LoginsPerHour == 0 {
		cfg.LoginsPerHour = defaults.LoginsPerHour
	}
	if cfg.AuthPerMin == 0 {
		cfg.AuthPerMin = defaults.AuthPerMin
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaults.MaxKeys
	}

	limits := make(map[string]limit, 5)
	add := func(kind string, window time.Duration, n int) {
		if n > 0 {
			limits[kind] = limit{window: window, n: n}
		}
	}
	add(KindSend, time.Minute, cfg.SendsPerMin)
	add(KindInbound, time.Minute, cfg.InboundPerMin)
	add(KindWebhook, time.Minute, cfg.WebhooksPerMin)
	add(KindLogin, time.Hour, cfg.LoginsPerHour)
	add(KindAuth, time.Minute, cfg.AuthPerMin)

	return &RateLimiter{
		config:  cfg,
		limits:  limits,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow checks whether an event of the given kind is allowed, sharing one
// bucket across all scopes of that kind.
func (rl *RateLimiter) Allow(kind string) error {
	return rl.AllowN(kind, 1)
}

// AllowKey checks whether one event for key is allowed. The kind is the
// part of key before the first colon; unknown kinds are never limited.
func (rl *RateLimiter) AllowKey(key string) error {
	return rl.AllowN(key, 1)
}

// AllowN checks whether n events for key are allowed.
func (rl *RateLimiter) AllowN(key string, n int) error {
	kind, _, _ := strings.Cut(key, ":")

	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limits[kind]
	if !ok {
		return nil
	}

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.config.MaxKeys {
			rl.sweep(now)
		}
		b = &bucket{window: lim.window, limit: lim.n}
		rl.buckets[key] = b
	}
	b.evict(now)

	if len(b.events)+n > b.limit {
		return fmt.Errorf("%w: %s", ErrRateLimited, key)
	}

	for range n {
		b.events = append(b.events, now)
	}
	return nil
}

// Keys returns the number of live buckets.
func (rl *RateLimiter) Keys() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// sweep drops buckets with no events in their window. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, b := range rl.buckets {
		b.evict(now)
		if len(b.events) == 0 {
			delete(rl.buckets, k)
		}
	}
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	// Events are chronologically ordered.
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
