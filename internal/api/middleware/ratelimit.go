package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	ipLimiterTTL     = 10 * time.Minute
	ipLimiterCleanup = 5 * time.Minute
)

// ipEntry pairs a token-bucket limiter with the last-seen timestamp for eviction.
type ipEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipLimiter holds a token-bucket rate limiter per client IP. Idle entries
// are evicted after ipLimiterTTL.
type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry
	r       rate.Limit
	b       int
	now     func() time.Time
}

func newIPLimiter(r rate.Limit, b int) *ipLimiter {
	return &ipLimiter{
		entries: make(map[string]*ipEntry),
		r:       r,
		b:       b,
		now:     time.Now,
	}
}

// cleanupLoop evicts idle entries until ctx is done.
func (i *ipLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(ipLimiterCleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.evict()
		}
	}
}

func (i *ipLimiter) evict() {
	cutoff := i.now().Add(-ipLimiterTTL)
	i.mu.Lock()
	defer i.mu.Unlock()
	for ip, e := range i.entries {
		if e.lastSeen.Before(cutoff) {
			delete(i.entries, ip)
		}
	}
}

func (i *ipLimiter) get(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	e, ok := i.entries[ip]
	if !ok {
		e = &ipEntry{lim: rate.NewLimiter(i.r, i.b)}
		i.entries[ip] = e
	}
	e.lastSeen = i.now()
	return e.lim
}

// RateLimit limits requests per client IP to rps with the given burst.
// Rejected requests get 429 and a Retry-After hint. The eviction loop
// stops with ctx.
func RateLimit(ctx context.Context, rps float64, burst int) echo.MiddlewareFunc {
	limiter := newIPLimiter(rate.Limit(rps), burst)
	go limiter.cleanupLoop(ctx)
	retryAfter := strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.get(c.RealIP()).Allow() {
				c.Response().Header().Set("Retry-After", retryAfter)
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
