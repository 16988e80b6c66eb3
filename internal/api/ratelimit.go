package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantumlife/lifeops/internal/core"
)

// Rate limiter defaults
const (
	DefaultCommandRate  = 5.0
	DefaultCommandBurst = 10

	visitorTTL   = 3 * time.Minute
	sweepEvery   = time.Minute
	minRetryWait = time.Second
)

// RateLimiter holds a token bucket per client IP.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per IP with the given
// burst. Non-positive values fall back to the defaults.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = DefaultCommandRate
	}
	if burst <= 0 {
		burst = DefaultCommandBurst
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// visitorFor returns the limiter for ip. Stale visitors are dropped at most
// once per sweep interval.
func (rl *RateLimiter) visitorFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > sweepEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Visitors returns the number of tracked IPs
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// Middleware rejects requests over the limit with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := rl.visitorFor(clientIP(r))
		res := lim.ReserveN(rl.now(), 1)
		if delay := res.DelayFrom(rl.now()); !res.OK() || delay > 0 {
			res.Cancel()
			if delay < minRetryWait {
				delay = minRetryWait
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(delay.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":%q,"kind":%q}`+"\n", core.ErrRateLimited.Error(), core.KindRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP reads the address RealIP has already resolved.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
