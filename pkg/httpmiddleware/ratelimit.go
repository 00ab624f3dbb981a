package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SlidingWindow is a per-key sliding window counter. The previous fixed
// window's count is weighted by how much of it still overlaps the sliding
// window ending now.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*windowBucket
}

type windowBucket struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// Decision is the outcome of SlidingWindow.Allow.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// NewSlidingWindow allows up to max events per key within window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:     max,
		window:  window,
		buckets: make(map[string]*windowBucket),
	}
}

// Allow records an event for key at now unless that would exceed the limit.
func (s *SlidingWindow) Allow(key string, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &windowBucket{currStart: now.Truncate(s.window)}
		s.buckets[key] = b
	}
	if since := now.Sub(b.currStart); since >= s.window {
		b.prev = b.curr
		if since >= 2*s.window {
			b.prev = 0
		}
		b.curr = 0
		b.currStart = now.Truncate(s.window)
	}

	overlap := 1 - now.Sub(b.currStart).Seconds()/s.window.Seconds()
	count := b.prev*math.Max(overlap, 0) + b.curr
	d := Decision{ResetAt: b.currStart.Add(s.window)}
	if count >= float64(s.max) {
		return d
	}

	b.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(s.max)-count-1), 0)
	return d
}

// Evict drops keys idle for two windows.
func (s *SlidingWindow) Evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.buckets {
		if now.Sub(b.currStart) >= 2*s.window {
			delete(s.buckets, key)
		}
	}
}

// Run evicts idle keys every two windows until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Evict(now)
		}
	}
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	Max    int           `default:"30" usage:"Max cart writes per key per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window"`
}

// KeyFunc extracts the rate limit key from a request. An empty key skips
// the limit.
type KeyFunc func(r *http.Request) string

// RateLimit rejects requests over the limit with 429. Every limited
// response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset headers.
func RateLimit(s *SlidingWindow, key KeyFunc) Middleware {
	limit := strconv.Itoa(s.max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			d := s.Allow(k, time.Now())
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				retry := max(time.Until(d.ResetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PathKey keys requests by a path wildcard, prefixed with the wildcard
// name. It must be used on a route registered with that wildcard.
func PathKey(name string) KeyFunc {
	return func(r *http.Request) string {
		v := r.PathValue(name)
		if v == "" {
			return ""
		}
		return name + ":" + v
	}
}

// ClientIP keys requests by the first X-Forwarded-For address, then
// X-Real-IP, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
