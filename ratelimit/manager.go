package ratelimit

import (
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MaxPause caps how long a single Retry-After hint can hold an upstream
const MaxPause = 5 * time.Minute

// RateLimit is the request budget for one upstream
type RateLimit struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	Burst              int `yaml:"burst" json:"burst"`
}

// IRateLimiterManager provides a way to get a rate limiter for a specific upstream
type IRateLimiterManager interface {
	GetLimiter(upstream string) *rate.Limiter
	SetConfig(config map[string]RateLimit)
}

// RateLimiterManager manages per-upstream rate limiters
type RateLimiterManager struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	config   map[string]RateLimit
	// pausedUntil holds upstreams that answered with Retry-After
	pausedUntil map[string]time.Time
}

// NewRateLimiterManager creates a new rate limiter manager
func NewRateLimiterManager(config map[string]RateLimit) *RateLimiterManager {
	return &RateLimiterManager{
		limiters:    make(map[string]*rate.Limiter),
		config:      config,
		pausedUntil: make(map[string]time.Time),
	}
}

// SetConfig applies a new rate limit configuration; limiters are rebuilt lazily
func (m *RateLimiterManager) SetConfig(newConfig map[string]RateLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = newConfig
	for upstream := range m.limiters {
		delete(m.limiters, upstream)
	}
}

// GetLimiter returns the limiter for an upstream, creating it if missing
func (m *RateLimiterManager) GetLimiter(upstream string) *rate.Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[upstream]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if lim, ok := m.limiters[upstream]; ok {
		return lim
	}

	limit := m.limitFor(upstream)
	limiter := rate.NewLimiter(limit, m.burstFor(upstream, limit))
	m.limiters[upstream] = limiter
	return limiter
}

// ForRequest returns a callback that picks the limiter by request host.
// Hosts without a configured budget are not limited.
func (m *RateLimiterManager) ForRequest() func(*http.Request) *rate.Limiter {
	return func(req *http.Request) *rate.Limiter {
		if req == nil || req.URL == nil {
			return nil
		}
		host := req.URL.Hostname()

		m.mu.RLock()
		_, configured := m.config[host]
		m.mu.RUnlock()
		if !configured {
			return nil
		}
		return m.GetLimiter(host)
	}
}

// Pause holds requests to upstream for d, capped at MaxPause. An existing
// longer pause is kept.
func (m *RateLimiterManager) Pause(upstream string, d time.Duration) {
	if d <= 0 {
		return
	}
	if d > MaxPause {
		d = MaxPause
	}
	until := time.Now().Add(d)

	m.mu.Lock()
	defer m.mu.Unlock()
	if until.After(m.pausedUntil[upstream]) {
		m.pausedUntil[upstream] = until
	}
}

// PausedFor returns how long upstream remains paused
func (m *RateLimiterManager) PausedFor(upstream string) time.Duration {
	m.mu.RLock()
	until, ok := m.pausedUntil[upstream]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	if remaining := time.Until(until); remaining > 0 {
		return remaining
	}
	return 0
}

// RetryAfter pauses the request's host for d
func (m *RateLimiterManager) RetryAfter(req *http.Request, d time.Duration) {
	if req == nil || req.URL == nil {
		return
	}
	m.Pause(req.URL.Hostname(), d)
}

// Wait blocks while the request's host is paused or until the request
// context is done.
func (m *RateLimiterManager) Wait(req *http.Request) error {
	if req == nil || req.URL == nil {
		return nil
	}
	ctx := req.Context()
	for {
		remaining := m.PausedFor(req.URL.Hostname())
		if remaining <= 0 {
			return ctx.Err()
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *RateLimiterManager) limitFor(upstream string) rate.Limit {
	if cfg, ok := m.config[upstream]; ok && cfg.RateLimitPerMinute > 0 {
		return rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)
	}
	// Default fallback
	return rate.Limit(30.0 / 60.0) // 30 requests per minute
}

func (m *RateLimiterManager) burstFor(upstream string, limit rate.Limit) int {
	if cfg, ok := m.config[upstream]; ok && cfg.Burst > 0 {
		return cfg.Burst
	}
	return defaultBurstForLimit(limit)
}

func defaultBurstForLimit(limit rate.Limit) int {
	if limit <= 1.0 {
		return 1
	}
	return int(math.Ceil(float64(limit)))
}
