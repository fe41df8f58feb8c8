package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/response"
)

// RateLimiter is a per-client fixed window counter. It fronts the auth
// endpoints, where the cost of a request is a bcrypt check or a database
// write rather than a cache hit.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*clientWindow
	cleanup time.Time
}

type clientWindow struct {
	count   int
	startAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*clientWindow),
		cleanup: time.Now().Add(window),
	}
}

func (rl *RateLimiter) allow(key string) (allowed bool, remaining int, resetAt time.Time) {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, w := range rl.windows {
			if now.Sub(w.startAt) > 2*rl.window {
				delete(rl.windows, k)
			}
		}
		rl.cleanup = now.Add(rl.window)
	}

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.startAt) >= rl.window {
		w = &clientWindow{startAt: now}
		rl.windows[key] = w
	}
	resetAt = w.startAt.Add(rl.window)
	if w.count >= rl.limit {
		return false, 0, resetAt
	}
	w.count++
	return true, rl.limit - w.count, resetAt
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, resetAt := rl.allow(clientKey(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if !allowed {
				retry := int(time.Until(resetAt).Round(time.Second).Seconds())
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey relies on chi's RealIP middleware having already rewritten
// RemoteAddr from the forwarding headers.
func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
