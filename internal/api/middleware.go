package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tathienbao/tradegate/internal/metrics"
	"golang.org/x/time/rate"
)

func requestLogger(logger *slog.Logger, recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		recorder.RecordAPIRequest(route, status)
		logger.Debug("api request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// rateLimit rejects requests beyond the shared limit. A zero limit disables it.
func rateLimit(perSecond float64, burst int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded, try again later")
			return
		}
		c.Next()
	}
}

// bearerAuth requires "Authorization: Bearer <token>". An empty token disables it.
func bearerAuth(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(token)

	return func(c *gin.Context) {
		scheme, got, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "bearer token required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
			return
		}
		c.Next()
	}
}
