package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeerBucketAllowsExactlyMaxPerWindow(t *testing.T) {
	now := time.Now()
	b := newPeerBucket(now)

	allowed := 0
	var lastRemaining int
	for i := 0; i < rateLimitMax+10; i++ {
		ok, remaining := b.allow(now)
		if ok {
			allowed++
		}
		lastRemaining = remaining
	}

	assert.Equal(t, rateLimitMax, allowed)
	assert.Equal(t, 0, lastRemaining)
}

func TestPeerBucketResetsAfterWindowElapses(t *testing.T) {
	now := time.Now()
	b := newPeerBucket(now)
	for i := 0; i < rateLimitMax; i++ {
		ok, _ := b.allow(now)
		assert.True(t, ok)
	}
	ok, _ := b.allow(now)
	assert.False(t, ok, "101st request inside the window must be rejected")

	later := now.Add(rateLimitWindow + time.Second)
	ok, remaining := b.allow(later)
	assert.True(t, ok, "a request after the window elapses must be allowed again")
	assert.Equal(t, rateLimitMax-1, remaining)
}

// TestRateLimitMiddlewareRejects101stOnwardsFromSinglePeer sends 110 rapid
// requests from one simulated peer and expects exactly 100 to succeed, 10
// rejected with 429, and X-RateLimit-Remaining=0 on the 101st.
func TestRateLimitMiddlewareRejects101stOnwardsFromSinglePeer(t *testing.T) {
	limiter := newPeerLimiter()
	handler := limiter.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	succeeded, rejected := 0, 0
	var remainingOn101st string
	for i := 1; i <= 110; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "203.0.113.7:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code == http.StatusOK {
			succeeded++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
			rejected++
		}
		if i == 101 {
			remainingOn101st = rec.Header().Get("X-RateLimit-Remaining")
		}
	}

	assert.Equal(t, rateLimitMax, succeeded)
	assert.Equal(t, 10, rejected)
	assert.Equal(t, strconv.Itoa(0), remainingOn101st)
}
