package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiterConfig configures rate limiting behavior
type RateLimiterConfig struct {
	RequestsPerSecond rate.Limit
	Burst             int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per caller key
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	config   RateLimiterConfig
}

// NewRateLimiter creates a limiter map and evicts idle entries in the
// background.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		config:   config,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether key may proceed now, and if not how long to wait
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.config.RequestsPerSecond, rl.config.Burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	rl.mu.Unlock()

	if limiter.Allow() {
		return true, 0
	}
	reservation := limiter.Reserve()
	retryAfter := reservation.Delay()
	reservation.Cancel()
	return false, retryAfter
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-limiterIdleTTL)
		rl.mu.Lock()
		for key, entry := range rl.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.limiters, key)
			}
		}
		rl.mu.Unlock()
	}
}

// PerWallet rejects callers that exceed the limit. Requests are keyed by
// wallet address, or by client IP when no identity is present.
func (rl *RateLimiter) PerWallet() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := WalletAddress(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if ok, retryAfter := rl.Allow(key); !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"kind":        "rate_limited",
				"message":     "Rate limit exceeded. Please try again later.",
				"retry_after": retryAfter.Seconds(),
			})
			return
		}

		c.Next()
	}
}
