package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// EnqueuePerMinute caps enqueue requests per client per minute. Zero
	// disables the limit.
	EnqueuePerMinute int `mapstructure:"enqueue_per_minute"`
}

// DefaultRateLimitConfig returns a limit of 600 enqueues per minute.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{EnqueuePerMinute: 600}
}

// RateLimiter counts requests per client in fixed one-minute windows stored
// in Redis.
type RateLimiter struct {
	client *redis.Client
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new RateLimiter with the given Redis client and configuration.
func NewRateLimiter(client *redis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// Allow increments the counter for client and reports whether it is still
// within the limit. Without a Redis client or a limit every call is allowed.
func (rl *RateLimiter) Allow(ctx context.Context, client string) (bool, error) {
	if rl.client == nil || rl.config.EnqueuePerMinute <= 0 {
		return true, nil
	}

	key := windowKey(client, rl.now())

	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}

	return incr.Val() <= int64(rl.config.EnqueuePerMinute), nil
}

// Middleware rejects requests over the limit with 429. The client is the
// token subject when authenticated, otherwise the remote IP. Redis errors
// are logged and the request is let through.
func (rl *RateLimiter) Middleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := SubjectFromContext(r.Context())
			if client == "" {
				client = remoteIP(r)
			}

			ok, err := rl.Allow(r.Context(), client)
			if err != nil {
				log.Warn().Err(err).Str("client", client).Msg("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(secondsUntilNextWindow(rl.now())))
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// windowKey returns the counter key for client in the minute containing t,
// e.g. "ratelimit:enqueue:alice:202603010930".
func windowKey(client string, t time.Time) string {
	return fmt.Sprintf("ratelimit:enqueue:%s:%s", client, t.UTC().Format("200601021504"))
}

func secondsUntilNextWindow(t time.Time) int {
	next := t.Truncate(time.Minute).Add(time.Minute)
	return int(next.Sub(t).Seconds()) + 1
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
