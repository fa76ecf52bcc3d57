// file: internal/middleware/rate_limiter.go
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"atbadges/internal/cache"
	"atbadges/internal/response"
	"atbadges/internal/services"

	"go.uber.org/zap"
)

// RateLimiterConfig holds per-client limit settings
type RateLimiterConfig struct {
	Enabled   bool
	Requests  int
	Window    time.Duration
	KeyPrefix string
}

// DefaultRateLimiterConfig returns the default per-client limit
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Enabled:   true,
		Requests:  300,
		Window:    time.Minute,
		KeyPrefix: "ratelimit",
	}
}

// RateLimitResult is the outcome of one limit check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// RateLimiter applies a fixed window per client IP over a shared cache
type RateLimiter struct {
	cache   cache.Cache
	config  *RateLimiterConfig
	builder *response.Builder
	logger  *zap.Logger
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(store cache.Cache, config *RateLimiterConfig, builder *response.Builder, logger *zap.Logger) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		cache:   store,
		config:  config,
		builder: builder,
		logger:  logger,
		now:     time.Now,
	}
}

// Middleware rejects clients over their window budget with 429. Cache
// failures let the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled || rl.config.Requests <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		result, err := rl.check(r.Context(), getClientIP(r))
		if err != nil {
			rl.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		rl.writeHeaders(w, result)
		if !result.Allowed {
			GetRequestLogger(r.Context()).Warn("Rate limit exceeded",
				zap.Int("limit", result.Limit),
				zap.Duration("retry_after", result.RetryAfter),
			)
			rl.builder.WriteError(w, r, &services.ServiceError{
				Type:       "RATE_LIMIT_EXCEEDED",
				Message:    "Rate limit exceeded",
				StatusCode: http.StatusTooManyRequests,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) check(ctx context.Context, clientKey string) (*RateLimitResult, error) {
	now := rl.now()
	windowStart := now.Truncate(rl.config.Window)
	key := fmt.Sprintf("%s:%s:%d", rl.config.KeyPrefix, clientKey, windowStart.Unix())

	count, err := rl.cache.Increment(ctx, key, 1)
	if err != nil {
		return nil, err
	}
	if count == 1 {
		if err := rl.cache.SetTTL(ctx, key, rl.config.Window); err != nil {
			return nil, err
		}
	}

	remaining := rl.config.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	resetTime := windowStart.Add(rl.config.Window)

	return &RateLimitResult{
		Allowed:    int(count) <= rl.config.Requests,
		Limit:      rl.config.Requests,
		Remaining:  remaining,
		ResetTime:  resetTime,
		RetryAfter: resetTime.Sub(now),
	}, nil
}

func (rl *RateLimiter) writeHeaders(w http.ResponseWriter, result *RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

	if !result.Allowed {
		seconds := int(result.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
}
