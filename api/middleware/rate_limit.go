package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"dpp/internal/metrics"
	"dpp/internal/utils"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is counted against. Returning false
// skips limiting for that request.
type KeyFunc func(c echo.Context) (string, bool)

// RateLimiter keeps one token bucket per key and forgets keys idle for ttl.
type RateLimiter struct {
	Scope string
	Key   KeyFunc

	limiters map[string]*rate.Limiter
	mutex    sync.Mutex
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewRateLimiter limits by client IP.
func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		Scope:    "ip",
		Key:      ClientIPKey,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     r,
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

// NewEmailRateLimiter limits magic link requests per normalized address,
// whatever IP they come from.
func NewEmailRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RateLimiter {
	l := NewRateLimiter(r, burst, ttl)
	l.Scope = "email"
	l.Key = RequestEmailKey
	return l
}

func ClientIPKey(c echo.Context) (string, bool) {
	return c.RealIP(), true
}

// RequestEmailKey reads the "email" field of a JSON body and puts the body
// back for the handler. Bodies without an email are not limited here; the
// handler rejects them.
func RequestEmailKey(c echo.Context) (string, bool) {
	req := c.Request()
	if req.Body == nil {
		return "", false
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, 64<<10))
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return "", false
	}

	var body struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return "", false
	}
	email := utils.NormalizeEmail(body.Email)
	return email, email != ""
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, ok := l.Key(c)
			if !ok {
				return next(c)
			}
			limiter := l.getLimiter(key)
			if !limiter.Allow() {
				metrics.RateLimitedTotal.WithLabelValues(l.Scope).Inc()
				c.Response().Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
				return c.JSON(http.StatusTooManyRequests, map[string]string{"message": "too many requests"})
			}
			return next(c)
		}
	}
}

// retryAfter is the whole seconds until one token is back in the bucket.
func (l *RateLimiter) retryAfter() int {
	if l.rate <= 0 {
		return 60
	}
	seconds := int(math.Round(1 / float64(l.rate)))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func (l *RateLimiter) getLimiter(key string) *rate.Limiter {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	if limiter, ok := l.limiters[key]; ok {
		l.lastSeen[key] = now
		return limiter
	}
	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters[key] = limiter
	l.lastSeen[key] = now
	l.cleanup(now)
	return limiter
}

func (l *RateLimiter) cleanup(now time.Time) {
	if l.ttl == 0 {
		return
	}
	cutoff := now.Add(-l.ttl)
	for key, last := range l.lastSeen {
		if last.Before(cutoff) {
			delete(l.lastSeen, key)
			delete(l.limiters, key)
		}
	}
}
