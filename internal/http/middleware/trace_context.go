package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/framewell/studio-qc-backend/internal/platform/ctxutil"
)

const requestIDHeader = "X-Request-ID"

// AttachTraceContext stamps every request with a request id and the active
// otel trace id so downstream log lines correlate. Runs after otelgin.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		td := &ctxutil.TraceData{RequestID: requestID}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			td.TraceID = sc.TraceID().String()
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}
