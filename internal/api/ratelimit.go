package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitWindow = 60 * time.Second
	rateLimitMax    = 100
)

// peerBucket pairs a token bucket with a plain request counter for the
// window. A request passes only while the counter is below rateLimitMax and
// the token bucket allows it; the counter also feeds X-RateLimit-Remaining,
// since rate.Limiter doesn't expose remaining tokens in a way that maps
// cleanly onto that header.
type peerBucket struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	count       int
	windowStart time.Time
}

func newPeerBucket(now time.Time) *peerBucket {
	return &peerBucket{
		limiter:     rate.NewLimiter(rate.Limit(float64(rateLimitMax)/rateLimitWindow.Seconds()), rateLimitMax),
		windowStart: now,
	}
}

func (b *peerBucket) allow(now time.Time) (ok bool, remaining int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.windowStart) >= rateLimitWindow {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= rateLimitMax || !b.limiter.AllowN(now, 1) {
		return false, 0
	}
	b.count++
	remaining = rateLimitMax - b.count
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

// peerLimiter rate-limits per remote IP: 100 requests per 60s, 429 past
// that, with an X-RateLimit-Remaining response header. Idle peers are swept
// periodically so the map doesn't grow unbounded across a long-running
// process.
type peerLimiter struct {
	mu      sync.Mutex
	buckets map[string]*peerBucket
}

func newPeerLimiter() *peerLimiter {
	l := &peerLimiter{buckets: make(map[string]*peerBucket)}
	go l.sweepLoop()
	return l
}

func (l *peerLimiter) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-2 * rateLimitWindow)
		l.mu.Lock()
		for peer, b := range l.buckets {
			b.mu.Lock()
			stale := b.windowStart.Before(cutoff)
			b.mu.Unlock()
			if stale {
				delete(l.buckets, peer)
			}
		}
		l.mu.Unlock()
	}
}

func (l *peerLimiter) bucketFor(peer string) *peerBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[peer]
	if !ok {
		b = newPeerBucket(time.Now())
		l.buckets[peer] = b
	}
	return b
}

func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// middleware enforces the per-peer limit and sets X-RateLimit-Remaining on
// every response, 429ing the 101st request inside a 60s window.
func (l *peerLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := l.bucketFor(peerAddr(r))
		ok, remaining := bucket.allow(time.Now())
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
