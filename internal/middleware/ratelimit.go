package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/trialguard-backend/pkg/clientip"
)

const (
	// RateLimitWindow is 120 seconds
	RateLimitWindow = 120 * time.Second
	// RateLimitMaxRequests is the maximum number of gated calls per IP in the window
	RateLimitMaxRequests = 30
	// RateLimitKeyPrefix is the Redis key prefix for rate limiting
	RateLimitKeyPrefix = "ratelimit:"
	// BlockedIPKeyPrefix is the Redis key prefix for blocked IPs
	BlockedIPKeyPrefix = "blocked_ip:"
	// BlockedIPDuration is how long an IP stays blocked after flooding
	BlockedIPDuration = time.Hour
)

// RedisRateLimiter counts requests per client IP in Redis so the window is
// shared by every instance. It fails open when Redis is unreachable; the
// trial engine itself fails closed.
type RedisRateLimiter struct {
	client      *redis.Client
	ips         clientip.Resolver
	window      time.Duration
	maxRequests int
	blockFor    time.Duration
}

func NewRedisRateLimiter(client *redis.Client, ips clientip.Resolver) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:      client,
		ips:         ips,
		window:      RateLimitWindow,
		maxRequests: RateLimitMaxRequests,
		blockFor:    BlockedIPDuration,
	}
}

func (l *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.client == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		ip := l.ips.ClientIP(r)
		blockedKey := BlockedIPKeyPrefix + ip

		if n, err := l.client.Exists(ctx, blockedKey).Result(); err == nil && n > 0 {
			writeTooMany(w, "Your IP has been temporarily blocked due to excessive requests. Please try again later.", l.blockFor)
			return
		}

		key := RateLimitKeyPrefix + ip
		var incr *redis.IntCmd
		_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, l.window)
			return nil
		})
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		count := int(incr.Val())

		if count > l.maxRequests {
			l.client.Set(ctx, blockedKey, "1", l.blockFor)
			writeTooMany(w, "Rate limit exceeded. Your IP has been temporarily blocked. Please try again later.", l.blockFor)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.maxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.maxRequests-count))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(l.window).Unix(), 10))
		next.ServeHTTP(w, r)
	})
}

func writeTooMany(w http.ResponseWriter, msg string, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(fmt.Sprintf(`{"success":false,"message":%q,"retry_after":%d}`, msg, int(retryAfter.Seconds()))))
}
