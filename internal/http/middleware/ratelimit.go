package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

// RateLimiter hands out one token bucket per key. Buckets idle for ten
// minutes are evicted.
type RateLimiter struct {
	limiters *gocache.Cache
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a rate limiter allowing perSecond requests with the
// given burst size per key.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: gocache.New(limiterIdle, limiterIdle/2),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether a request for key is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := rl.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		rl.limiters.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(rl.rate, rl.burst)
	if err := rl.limiters.Add(key, lim, gocache.DefaultExpiration); err != nil {
		// lost the race; use the winner
		if v, ok := rl.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// RateLimit returns an HTTP middleware that rejects requests exceeding the
// configured rate with 429 Too Many Requests. Requests are keyed by the
// {instanceKey} route parameter, falling back to the client address, so one
// noisy instance cannot starve the others.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(perSecond, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(limitKey(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitKey(r *http.Request) string {
	if key := chi.URLParam(r, "instanceKey"); key != "" {
		return "instance:" + key
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return "ip:" + ip
}
