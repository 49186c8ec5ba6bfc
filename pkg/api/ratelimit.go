package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/actionsdash/actionsdash/pkg/config"
)

const (
	rateLimitCleanupInterval = 5 * time.Minute
	rateLimitEntryTTL        = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterMap keeps one token bucket per client IP. The dashboard
// extension polls the status and dashboard endpoints, so buckets refill
// at the configured per-minute rate with the configured burst headroom.
type rateLimiterMap struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rps      rate.Limit
	burst    int
}

func newRateLimiterMap(cfg config.RateLimitConfig) *rateLimiterMap {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}

	rl := &rateLimiterMap{
		limiters: make(map[string]*clientLimiter, 64),
		rps:      rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    burst,
	}

	go rl.cleanup()

	return rl
}

func (rl *rateLimiterMap) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[ip] = &clientLimiter{
			limiter:  limiter,
			lastSeen: time.Now(),
		}

		return limiter
	}

	entry.lastSeen = time.Now()

	return entry.limiter
}

func (rl *rateLimiterMap) cleanup() {
	ticker := time.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()

		for ip, entry := range rl.limiters {
			if time.Since(entry.lastSeen) > rateLimitEntryTTL {
				delete(rl.limiters, ip)
			}
		}

		rl.mu.Unlock()
	}
}

// rateLimitMiddleware returns a per-IP rate limiting middleware
// configured from the server's rate limit settings.
func (s *server) rateLimitMiddleware(
	cfg config.RateLimitConfig,
) func(http.Handler) http.Handler {
	limiterMap := newRateLimiterMap(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			limiter := limiterMap.getLimiter(ip)

			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client's IP address from the request.
func extractIP(r *http.Request) string {
	// Behind a reverse proxy the first X-Forwarded-For hop is the
	// client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
