package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// RateLimiter is a per client IP token bucket.
type RateLimiter struct {
	ipLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{ipLimiter: newTokenLimiter(cfg.PerMinute, cfg.Burst)}
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/healthz" {
				return next(c)
			}
			ip := c.RealIP()
			if ip != "" && !l.ipLimiter.allow(ip) {
				return writeError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			}
			return next(c)
		}
	}
}

type tokenLimiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	idle      time.Duration
	lastSweep time.Time
	bucket    map[string]*bucket
	now       func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	rate := float64(perMinute) / 60.0
	return &tokenLimiter{
		rate:   rate,
		burst:  float64(burst),
		idle:   time.Duration(float64(burst) / rate * float64(time.Second)),
		bucket: make(map[string]*bucket),
		now:    time.Now,
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	b, ok := l.bucket[key]
	if !ok {
		l.bucket[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle long enough to have refilled completely; they
// behave exactly like a fresh bucket.
func (l *tokenLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for key, b := range l.bucket {
		if now.Sub(b.last) >= l.idle {
			delete(l.bucket, key)
		}
	}
}
