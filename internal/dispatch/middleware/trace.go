package middleware

import (
	"context"
	"strings"

	"tenantrun/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"

	maxIDLength = 128
)

// TraceContext puts trace and request ids into the request context and the
// response headers. Caller supplied ids are kept when they look sane.
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := incomingID(c.GetHeader(TraceIDHeader))
		requestID := incomingID(c.GetHeader(RequestIDHeader))

		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Set(string(contextkey.TraceID), traceID)
		c.Set(string(contextkey.RequestID), requestID)
		c.Writer.Header().Set(TraceIDHeader, traceID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		c.Next()
	}
}

func incomingID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > maxIDLength || strings.ContainsAny(v, "\r\n") {
		return uuid.NewString()
	}
	return v
}
