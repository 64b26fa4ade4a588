package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
)

type RequestLogMiddleware struct {
	log *logger.Logger
}

func NewRequestLogMiddleware(log *logger.Logger) *RequestLogMiddleware {
	return &RequestLogMiddleware{log: log.With("middleware", "RequestLog")}
}

func (m *RequestLogMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.log.Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}
