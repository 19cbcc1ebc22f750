// Package middleware provides HTTP middleware for Pitstop.
// ratelimit.go implements a per-IP fixed-window rate limiter kept in
// memory. It guards the login and signup endpoints.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// rateLimitEntry tracks request counts for a single IP within a time window.
type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// rateLimiter is the state behind one RateLimit middleware.
type rateLimiter struct {
	mu          sync.Mutex
	entries     map[string]*rateLimitEntry
	maxRequests int
	window      time.Duration
	lastSweep   time.Time
	now         func() time.Time
}

// allow counts a request from ip and reports whether it is within the
// limit, plus how long until the window resets.
func (l *rateLimiter) allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	entry, exists := l.entries[ip]
	if !exists || now.Sub(entry.windowStart) >= l.window {
		l.entries[ip] = &rateLimitEntry{count: 1, windowStart: now}
		return true, 0
	}

	entry.count++
	if entry.count > l.maxRequests {
		return false, l.window - now.Sub(entry.windowStart)
	}
	return true, 0
}

// sweep drops entries whose window ended long ago. Runs at most once per
// window so the map stays bounded without a background goroutine.
func (l *rateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for ip, entry := range l.entries {
		if now.Sub(entry.windowStart) > l.window*2 {
			delete(l.entries, ip)
		}
	}
	l.lastSweep = now
}

// RateLimit returns middleware that limits requests per IP to maxRequests
// within the given window duration. Returns 429 with Retry-After when
// exceeded.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	return newRateLimiter(maxRequests, window, time.Now).middleware
}

func newRateLimiter(maxRequests int, window time.Duration, now func() time.Time) *rateLimiter {
	return &rateLimiter{
		entries:     make(map[string]*rateLimitEntry),
		maxRequests: maxRequests,
		window:      window,
		lastSweep:   now(),
		now:         now,
	}
}

func (l *rateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ok, retryAfter := l.allow(c.RealIP())
		if !ok {
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			c.Response().Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error":   http.StatusText(http.StatusTooManyRequests),
				"message": "rate limit exceeded, please try again later",
			})
		}
		return next(c)
	}
}
