package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDKey = "request_id"

func RequestLogger(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set(RequestIDKey, reqID)

		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"route":      c.FullPath(),
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		}
		for _, key := range []string{"interviewId", "turnId", "sessionId"} {
			if v := c.Param(key); v != "" {
				fields[key] = v
			}
		}
		if v := c.Query("interviewId"); v != "" {
			fields["interviewId"] = v
		}

		entry := l.WithFields(fields)
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
