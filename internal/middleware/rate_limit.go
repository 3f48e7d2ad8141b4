package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"foodrescue/pkg/log"
	"foodrescue/pkg/utils"
)

// RateLimitConfig rate limiting middleware configuration
type RateLimitConfig struct {
	// Rate requests per second
	Rate float64
	// Burst maximum burst size
	Burst int
	// KeyFunc function to generate rate limit key
	KeyFunc func(c *gin.Context) string
}

// RateLimit global rate limiting middleware sharing one bucket
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			utils.ErrorResponse(c, http.StatusTooManyRequests, utils.CodeRateLimit, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// IPRateLimit IP-based rate limiting middleware
func IPRateLimit(rps float64, burst int) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Rate:  rps,
		Burst: burst,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}

// RateLimitWithConfig rate limiting middleware with per-key buckets
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		key := config.KeyFunc(c)

		mu.Lock()
		limiter, exists := limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(config.Rate), config.Burst)
			limiters[key] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			log.WithFields(map[string]interface{}{
				"key":  key,
				"path": c.Request.URL.Path,
			}).Warn("Rate limit exceeded")

			utils.ErrorResponse(c, http.StatusTooManyRequests, utils.CodeRateLimit, "rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}
