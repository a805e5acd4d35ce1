package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	RequestsPerSecond int
	BurstSize         int
}

// clients holds one limiter per client IP.
var clients = make(map[string]*rate.Limiter)
var clientsMutex sync.Mutex

// SetupRateLimit configures the per-IP rate limiting middleware.
func SetupRateLimit(config RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		clientsMutex.Lock()
		limiter, exists := clients[clientIP]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize)
			clients[clientIP] = limiter
		}
		clientsMutex.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// cleanupClients resets the limiter map periodically so one-off client IPs
// do not accumulate forever.
func cleanupClients() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		clientsMutex.Lock()
		clients = make(map[string]*rate.Limiter)
		clientsMutex.Unlock()
	}
}

func init() {
	go cleanupClients()
}
