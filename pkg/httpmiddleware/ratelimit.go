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

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests, such as gateway callbacks. They are
	// neither counted nor annotated.
	Skip func(*http.Request) bool
}

// Decision is the outcome of one Limiter.Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func (d Decision) annotate(h http.Header, now time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		wait := max(d.Reset.Sub(now), 0)
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
}

// window counts hits in the current fixed window and remembers the count of
// the one before it.
type window struct {
	start time.Time
	hits  int
	prev  int
}

// Limiter approximates a sliding window by weighting the previous fixed
// window by how much of it still overlaps the last Window of time.
type Limiter struct {
	max    int
	period time.Duration

	mu      sync.Mutex
	clients map[string]*window
}

// NewLimiter allows limit hits per key in any period.
func NewLimiter(limit int, period time.Duration) *Limiter {
	return &Limiter{max: limit, period: period, clients: make(map[string]*window)}
}

// Allow records a hit for key at now unless the key is over its limit.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.period)
	w := l.clients[key]
	switch {
	case w == nil:
		w = &window{start: start}
		l.clients[key] = w
	case start.Sub(w.start) >= 2*l.period:
		*w = window{start: start}
	case start.After(w.start):
		*w = window{start: start, prev: w.hits}
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(l.period)
	used := float64(w.prev)*overlap + float64(w.hits)
	d := Decision{Limit: l.max, Reset: w.start.Add(l.period)}
	if used >= float64(l.max) {
		return d
	}
	w.hits++
	d.Allowed = true
	d.Remaining = max(l.max-int(math.Ceil(used+1)), 0)
	return d
}

// Prune forgets keys idle for two full periods.
func (l *Limiter) Prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.period {
			delete(l.clients, key)
		}
	}
}

// RateLimit enforces cfg and annotates responses with X-RateLimit-* headers.
// Rejected requests get a 429 error envelope and Retry-After. Idle keys are
// never pruned; use RateLimitWithCleanup for long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimit(cfg, NewLimiter(cfg.Max, cfg.Window))
}

// RateLimitWithCleanup is RateLimit plus a goroutine that prunes idle keys
// every two windows until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg.Max, cfg.Window)
	go func() {
		t := time.NewTicker(2 * cfg.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.Prune(now)
			}
		}
	}()
	return rateLimit(cfg, l)
}

func rateLimit(cfg RateLimitConfig, l *Limiter) Middleware {
	key := cfg.KeyFunc
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			now := time.Now()
			d := l.Allow(key(r), now)
			d.annotate(w.Header(), now)
			if !d.Allowed {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
