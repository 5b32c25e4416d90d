package ratelimit

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc derives the client key for a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by remote address without the port. Run it behind
// chi's RealIP middleware to honour X-Forwarded-For.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests from clients that exhausted their bucket.
type Middleware struct {
	limiter    *Limiter
	enabled    bool
	key        KeyFunc
	logger     *log.Logger
	onThrottle func(r *http.Request)
}

// NewMiddleware creates a middleware keyed by ClientIP.
func NewMiddleware(limiter *Limiter, enabled bool, logger *log.Logger) *Middleware {
	return &Middleware{limiter: limiter, enabled: enabled, key: ClientIP, logger: logger}
}

// WithKeyFunc overrides the client key derivation.
func (m *Middleware) WithKeyFunc(fn KeyFunc) *Middleware {
	if fn != nil {
		m.key = fn
	}
	return m
}

// OnThrottle registers a callback run for every rejected request.
func (m *Middleware) OnThrottle(fn func(r *http.Request)) *Middleware {
	m.onThrottle = fn
	return m
}

// Wrap applies the limit to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled || m.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.key(r)
		allowed := m.limiter.Allow(key)
		m.addHeaders(w, key)
		if !allowed {
			wait := m.limiter.RetryAfter(key)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			if m.logger != nil {
				m.logger.Printf("throttled client=%s path=%s", key, r.URL.Path)
			}
			if m.onThrottle != nil {
				m.onThrottle(r)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests, retry later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// addHeaders sets the draft-polli-ratelimit-headers fields.
func (m *Middleware) addHeaders(w http.ResponseWriter, key string) {
	if key == "" {
		return
	}
	limit := m.limiter.Limit()
	remaining := m.limiter.Remaining(key)
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Floor(remaining)))
	if remaining < limit && m.limiter.cfg.RequestsPerSecond > 0 {
		full := time.Duration((limit - remaining) / m.limiter.cfg.RequestsPerSecond * float64(time.Second))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(m.limiter.now().Add(full).Unix(), 10))
	}
}
