package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another request for key fits the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter is an in-memory sliding-window limiter
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter allowing maxReqs per window for each key
func NewRateLimiter(window time.Duration, maxReqs int) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow records a request for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	filtered := prune(rl.requests[key], now.Add(-rl.window))
	if len(filtered) >= rl.maxReqs {
		rl.requests[key] = filtered
		return false, nil
	}
	rl.requests[key] = append(filtered, now)
	return true, nil
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-rl.window)
			for key, reqs := range rl.requests {
				if filtered := prune(reqs, cutoff); len(filtered) == 0 {
					delete(rl.requests, key)
				} else {
					rl.requests[key] = filtered
				}
			}
			rl.mu.Unlock()
		}
	}
}

func prune(reqs []time.Time, cutoff time.Time) []time.Time {
	filtered := reqs[:0]
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// RedisLimiter is a fixed-window limiter shared by every API instance
type RedisLimiter struct {
	client  *redis.Client
	window  time.Duration
	maxReqs int
	prefix  string
}

// NewRedisLimiter creates a limiter storing one counter per key and window
func NewRedisLimiter(client *redis.Client, window time.Duration, maxReqs int) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, maxReqs: maxReqs, prefix: "urnaweb:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("incr rate counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("expire rate counter: %w", err)
		}
	}
	return count <= int64(l.maxReqs), nil
}

// ConnectRedis accepts a redis:// URL or a bare host:port
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RateLimitMiddleware answers 429 RateLimited once keyFunc's key exceeds the
// limiter. Limiter failures let the request through.
func RateLimitMiddleware(limiter Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				slog.ErrorContext(r.Context(), "rate limiter unavailable",
					"request_id", chimw.GetReqID(r.Context()),
					"error", err,
				)
				allowed = true
			}
			if !allowed {
				slog.WarnContext(r.Context(), "rate limit exceeded",
					"request_id", chimw.GetReqID(r.Context()),
					"key", key,
				)
				respondWithError(w, http.StatusTooManyRequests, "RateLimited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey keys rate limiting on the connection peer, ignoring forwarding headers
func GetIPKey(r *http.Request) string {
	return "ip:" + RemoteIP(r)
}
