package http

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	. "github.com/roelfdiedericks/readmore/internal/logging"
	. "github.com/roelfdiedericks/readmore/internal/metrics"
)

const (
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute
)

type window struct {
	start time.Time
	count int
}

// RateLimiter counts requests per IP in fixed windows
type RateLimiter struct {
	windows map[string]*window
	mu      sync.Mutex
	limit   int
	period  time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter. Zero values take the defaults.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if period <= 0 {
		period = defaultRateWindow
	}
	return &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow records a request from ip and reports whether it is within the limit.
func (r *RateLimiter) Allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[ip]
	if !ok || now.Sub(w.start) >= r.period {
		r.prune(now)
		r.windows[ip] = &window{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= r.limit
}

// prune drops expired windows. Caller holds r.mu.
func (r *RateLimiter) prune(now time.Time) {
	for ip, w := range r.windows {
		if now.Sub(w.start) >= r.period {
			delete(r.windows, ip)
		}
	}
}

// rateLimit middleware rejects clients over the per-IP limit
func (s *Server) rateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !s.rateLimiter.Allow(ip) {
			MetricInc(TopicHTTP, "rate_limited")
			L_warn("http: rate limited", "ip", ip, "path", r.URL.Path)
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (if behind reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
