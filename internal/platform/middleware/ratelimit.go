package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medicheck/medicheck/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops a caller's budget after this long without requests.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, BurstSize: 100, IdleTTL: 10 * time.Minute}
}

// budget is one caller's token bucket.
type budget struct {
	tokens   float64
	lastSeen time.Time
}

// limiter keeps a budget per caller key. Callers idle longer than ttl are
// swept on the next sweep interval so the map tracks active callers only.
type limiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	ttl       time.Duration
	budgets   map[string]*budget
	lastSweep time.Time
	now       func() time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultRateLimitConfig().IdleTTL
	}
	return &limiter{
		rate:    cfg.RequestsPerSecond,
		burst:   float64(cfg.BurstSize),
		ttl:     ttl,
		budgets: make(map[string]*budget),
		now:     time.Now,
	}
}

// take spends one token for key. When none is left it returns the number of
// whole seconds until one is.
func (l *limiter) take(key string) (ok bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.ttl {
		for k, b := range l.budgets {
			if now.Sub(b.lastSeen) >= l.ttl {
				delete(l.budgets, k)
			}
		}
		l.lastSweep = now
	}

	b, found := l.budgets[key]
	if !found {
		b = &budget{tokens: l.burst, lastSeen: now}
		l.budgets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*l.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.rate <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/l.rate) + 1
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.budgets)
}

// RateLimit gives every authenticated identity its own budget; anonymous
// requests (register, login, health) share a budget per client IP. Mount it
// after the auth middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if ok, retry := l.take(key); !ok {
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
