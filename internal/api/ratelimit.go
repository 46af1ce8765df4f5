package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wagerline/wagerline-core/internal/infrastructure/config"
)

const (
	defaultLoginsPerMinute = 10
	defaultLoginBurst      = 5

	// limiterIdleTTL is how long an unused per-IP limiter is kept.
	limiterIdleTTL = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// loginLimiter throttles login attempts per client IP.
type loginLimiter struct {
	perMinute int
	burst     int

	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

func newLoginLimiter(cfg config.RateLimitConfig) *loginLimiter {
	if !cfg.Enabled {
		return nil
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = defaultLoginsPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultLoginBurst
	}
	return &loginLimiter{
		perMinute: perMinute,
		burst:     burst,
		limiters:  make(map[string]*ipLimiter),
	}
}

func (l *loginLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(l.perMinute)/60, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops limiters idle since before cutoff.
func (l *loginLimiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *loginLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now.Add(-limiterIdleTTL))
		}
	}
}

// rateLimitLogin rejects login attempts over the per-IP budget with 429.
// A nil limiter lets everything through.
func (s *Server) rateLimitLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.loginLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !s.loginLimiter.allow(clientIP(r), time.Now()) {
			w.Header().Set("Retry-After", strconv.Itoa(60/s.loginLimiter.perMinute+1))
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many login attempts")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request's remote address without the port.
// Forwarded headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
