package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	authinfra "stock-alarm/internal/infrastructure/auth"
	"stock-alarm/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
)

// requireService 驗證 Bearer 服務 token（role=service）。
func (s *Server) requireService() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := parseBearer(c.GetHeader("Authorization"))
		if token == "" {
			abortError(c, http.StatusUnauthorized, errCodeUnauthorized, "unauthorized")
			return
		}
		if s.tokens == nil {
			abortError(c, http.StatusUnauthorized, errCodeUnauthorized, "service tokens not configured")
			return
		}

		claims, err := s.tokens.Authorize(token)
		if errors.Is(err, authinfra.ErrForbidden) {
			abortError(c, http.StatusForbidden, errCodeForbidden, "forbidden")
			return
		}
		if err != nil {
			abortError(c, http.StatusUnauthorized, errCodeUnauthorized, "invalid token")
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

func (s *Server) ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := s.log.Info()
		if status >= http.StatusInternalServerError {
			event = s.log.Error()
		}
		// 設定頁網址含 token，只記錄路由樣式。
		if route := c.FullPath(); route != "" {
			path = route
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
