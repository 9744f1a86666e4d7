package middleware

import (
	"net/http"
	"strconv"

	"peerlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens one span per HTTP request, tagged with the matched
// route and the peer the request acts on.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			// Unmatched requests (404s) carry the raw path instead.
			route = c.Request.URL.Path
		}

		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(attribute.String("http.client_ip", c.ClientIP()))
		if peerID := c.Param("id"); peerID != "" {
			span.SetAttributes(attribute.String("peer_id", peerID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusBadRequest {
			msg := c.Errors.String()
			if msg == "" {
				msg = strconv.Itoa(status) + " " + http.StatusText(status)
			}
			span.SetStatus(codes.Error, msg)
		}
	}
}
