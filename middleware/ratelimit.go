package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/ogxcoders/videopress/errors"
)

// API rate limit: this many requests per window per client IP.
const rateLimitRequests = 100
const rateLimitWindow = 60 * time.Second

// idle buckets are dropped after this long
const bucketIdleExpiry = 10 * time.Minute

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter applies a per-IP token bucket to the API surface.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: map[string]*tokenBucket{},
		now:     time.Now,
	}
}

// Allow consumes one token for the client, refilling at the configured rate.
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[clientIP]
	if !ok {
		bucket = &tokenBucket{tokens: rateLimitRequests, lastSeen: now}
		rl.buckets[clientIP] = bucket
	}

	refill := now.Sub(bucket.lastSeen).Seconds() * (rateLimitRequests / rateLimitWindow.Seconds())
	bucket.tokens += refill
	if bucket.tokens > rateLimitRequests {
		bucket.tokens = rateLimitRequests
	}
	bucket.lastSeen = now

	rl.sweep(now)

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// sweep drops buckets nobody has touched in a while; called under the lock.
func (rl *RateLimiter) sweep(now time.Time) {
	if len(rl.buckets) < 1024 {
		return
	}
	for ip, bucket := range rl.buckets {
		if now.Sub(bucket.lastSeen) > bucketIdleExpiry {
			delete(rl.buckets, ip)
		}
	}
}

// Limit wraps a handler with the per-IP limit, answering 429 with Retry-After
// when the bucket is empty.
func (rl *RateLimiter) Limit(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !rl.Allow(clientIP(r)) {
			errors.WriteHTTPTooManyRequests(w, int(rateLimitWindow.Seconds()), "Rate limit exceeded")
			return
		}
		next(w, r, ps)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
