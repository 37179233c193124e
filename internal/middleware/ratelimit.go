package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientRateLimiter keeps one token bucket per client.
type ClientRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	rate       rate.Limit
	burst      int
}

func NewClientRateLimiter(perMinute int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		rate:       rate.Limit(float64(perMinute) / 60.0),
		burst:      max(1, perMinute/3),
	}
}

func (l *ClientRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.lastAccess[key] = time.Now()
	return limiter.Allow()
}

// Evict removes limiters that haven't been used within maxAge.
func (l *ClientRateLimiter) Evict(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for key, last := range l.lastAccess {
		if last.Before(cutoff) {
			delete(l.limiters, key)
			delete(l.lastAccess, key)
		}
	}
}

// Limit answers 429 once a client exceeds its budget. Requests are keyed by
// client ID, falling back to the remote IP.
func (l *ClientRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIDFromContext(r.Context())
		if key == "" {
			key, _, _ = net.SplitHostPort(r.RemoteAddr)
		}
		if !l.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute/time.Second)))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many orders, try again shortly"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
