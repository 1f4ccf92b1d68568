package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// producerBucket is one telemetry producer's token bucket, keyed by client
// IP. lastSeen drives idle eviction.
type producerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterPool struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	maxIdle time.Duration
	buckets map[string]*producerBucket
}

func (p *limiterPool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[ip]
	if !ok {
		b = &producerBucket{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (p *limiterPool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ip, b := range p.buckets {
		if time.Since(b.lastSeen) > p.maxIdle {
			delete(p.buckets, ip)
		}
	}
}

// RateLimiter returns middleware that throttles each producer IP with its
// own token bucket: rps steady-state requests per second, up to burst at
// once. A quiet fleet should never see 429s; one runaway producer replaying
// a session at full speed gets throttled without starving the others.
//
// sweep controls how often idle buckets are evicted; buckets untouched for
// two sweep periods are dropped. A sweep of 0 disables eviction, which is
// only sensible for short-lived test routers.
func RateLimiter(rps, burst int, sweep time.Duration) gin.HandlerFunc {
	pool := &limiterPool{
		rps:     rate.Limit(rps),
		burst:   burst,
		maxIdle: 2 * sweep,
		buckets: make(map[string]*producerBucket),
	}

	if sweep > 0 {
		go func() {
			for range time.Tick(sweep) {
				pool.evictIdle()
			}
		}()
	}

	return func(c *gin.Context) {
		if !pool.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
