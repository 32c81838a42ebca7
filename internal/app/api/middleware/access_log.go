package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/pkg/logctx"
)

// AccessLogMiddleware logs HTTP access using the request-scoped logger
// previously attached by RequestLoggerMiddleware.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		// pick request logger if present
		if l, ok := c.Get(logctx.LoggerKey); ok {
			if log, ok := l.(*zap.SugaredLogger); ok && log != nil {
				fields := []any{
					"method", c.Request.Method,
					"path", c.FullPath(),
					"status", c.Writer.Status(),
					"latency_ms", latency.Milliseconds(),
					"client_ip", c.ClientIP(),
				}
				if len(c.Errors) > 0 {
					fields = append(fields, "errors", c.Errors.String())
				}
				switch {
				case c.Writer.Status() >= 500:
					log.Warnw("http_access", fields...)
				case c.FullPath() == "/healthz":
					// probes hit this every few seconds
					log.Debugw("http_access", fields...)
				default:
					log.Infow("http_access", fields...)
				}
			}
		}
	}
}
