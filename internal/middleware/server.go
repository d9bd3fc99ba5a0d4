package middleware

import (
	"log/slog"
	"time"

	"paylink_backend/internal/logger"
	"paylink_backend/pkg/contextkeys"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(contextkeys.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(contextkeys.RequestIDHeader, requestID)
		c.Next()
	}
}

// CorrelationIDMiddleware propagates X-Correlation-ID into audit entries.
// Without the header the request id is reused.
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(contextkeys.CorrelationIDHeader)
		if correlationID == "" {
			correlationID = logger.GetRequestID(c.Request.Context())
		}
		if correlationID != "" {
			ctx := logger.WithCorrelationID(c.Request.Context(), correlationID)
			c.Request = c.Request.WithContext(ctx)
			c.Header(contextkeys.CorrelationIDHeader, correlationID)
		}
		c.Next()
	}
}

func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		log := logger.FromContext(c.Request.Context())
		fields := []any{
			slog.String("client_ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Duration("duration", duration),
			slog.Int("size_bytes", c.Writer.Size()),
		}
		if c.Writer.Status() >= 500 {
			log.Error("HTTP Server Error", fields...)
		} else if c.Writer.Status() >= 400 {
			log.Warn("HTTP Client Error", fields...)
		} else {
			log.Info("HTTP Request", fields...)
		}
	}
}
