package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type bucket struct {
	count int
	until time.Time
}

// FixedWindow allows up to limit hits per key in each window of length per.
type FixedWindow struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

func NewFixedWindow(limit int, per time.Duration) *FixedWindow {
	return &FixedWindow{limit: limit, per: per, now: time.Now, buckets: make(map[string]*bucket)}
}

// Allow records a hit for key and reports whether it is within the limit.
// A non-positive limit allows everything.
func (f *FixedWindow) Allow(key string) bool {
	if f == nil || f.limit <= 0 {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	b, ok := f.buckets[key]
	if !ok || now.After(b.until) {
		b = &bucket{count: 0, until: now.Add(f.per)}
		f.buckets[key] = b
	}
	if b.count >= f.limit {
		return false
	}
	b.count++
	return true
}

// Prune drops expired windows.
func (f *FixedWindow) Prune() {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for k, b := range f.buckets {
		if now.After(b.until) {
			delete(f.buckets, k)
		}
	}
}

func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	fw := NewFixedWindow(limit, per)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !fw.Allow(clientIPForRateLimit(r)) {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
