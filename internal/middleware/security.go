package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AnshRaj112/trialguard-backend/pkg/clientip"
)

const (
	headerXContentTypeOptions     = "X-Content-Type-Options"
	headerXFrameOptions           = "X-Frame-Options"
	headerXXSSProtection          = "X-XSS-Protection"
	headerContentSecurityPolicy   = "Content-Security-Policy"
	headerStrictTransportSecurity = "Strict-Transport-Security"
)

// SecurityHeaders sets security-related response headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerXContentTypeOptions, "nosniff")
		w.Header().Set(headerXFrameOptions, "DENY")
		w.Header().Set(headerXXSSProtection, "1; mode=block")
		w.Header().Set(headerContentSecurityPolicy, "default-src 'self'")
		w.Header().Set(headerStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// HostCheck returns 403 when r.Host does not match allowedHost (e.g. api.trialguard.io).
// allowedHost should be the bare hostname without scheme or port.
func HostCheck(allowedHost string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedHost == "" {
				next.ServeHTTP(w, r)
				return
			}
			reqHost := r.Host
			if host, _, err := net.SplitHostPort(reqHost); err == nil {
				reqHost = host
			}
			if !strings.EqualFold(strings.TrimSpace(reqHost), strings.TrimSpace(allowedHost)) {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte("Forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// keyedLimiter hands out one token bucket per key and forgets idle keys.
type keyedLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*limiterEntry
	cleanup sync.Once
}

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterTTL             = 30 * time.Minute
)

func newKeyedLimiter(limit rate.Limit, burst int) *keyedLimiter {
	return &keyedLimiter{limit: limit, burst: burst, ttl: limiterTTL, entries: make(map[string]*limiterEntry)}
}

func (k *keyedLimiter) Allow(key string) bool {
	k.cleanup.Do(func() { go k.sweep() })

	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastUse = time.Now()
	k.mu.Unlock()
	return e.limiter.Allow()
}

func (k *keyedLimiter) sweep() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		k.mu.Lock()
		now := time.Now()
		for key, e := range k.entries {
			if now.Sub(e.lastUse) > k.ttl {
				delete(k.entries, key)
			}
		}
		k.mu.Unlock()
	}
}

const (
	globalRateLimitRPS   = 5
	globalRateLimitBurst = 20

	loginRateLimitEvery = 5 * time.Second
	loginRateLimitBurst = 2
)

var loginPaths = map[string]bool{
	"/api/admin/signin": true,
}

// GlobalRateLimit limits each client IP to 5 req/s, burst 20. Returns 429 when exceeded.
func GlobalRateLimit(ips clientip.Resolver) func(http.Handler) http.Handler {
	limiter := newKeyedLimiter(rate.Limit(globalRateLimitRPS), globalRateLimitBurst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ips.ClientIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"message":"Too many requests. Please slow down."}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoginRateLimit applies a stricter limit to sign-in routes only. Use after GlobalRateLimit.
func LoginRateLimit(ips clientip.Resolver) func(http.Handler) http.Handler {
	limiter := newKeyedLimiter(rate.Every(loginRateLimitEvery), loginRateLimitBurst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !loginPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow(ips.ClientIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"message":"Too many login attempts. Please try again later."}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProductionSecurity returns middlewares for production: SecurityHeaders → HostCheck → GlobalRateLimit → LoginRateLimit.
func ProductionSecurity(allowedHost string, ips clientip.Resolver) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders,
		HostCheck(allowedHost),
		GlobalRateLimit(ips),
		LoginRateLimit(ips),
	}
}
