package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	unmatchedRoute  = "unmatched"
)

// quietRoutes are polled by orchestration and scrapers; they log at trace.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// HTTPMiddleware tags each admin request with a request id, counts it under
// the agent's name, and logs it. An incoming X-Request-ID that parses as a
// UUID is kept so callers can correlate; anything else is replaced.
func HTTPMiddleware(agent string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		RecordHTTPRequest(agent, c.Request.Method, route, status)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case quietRoutes[route]:
			event = logger.Trace()
		default:
			event = logger.Debug()
		}
		if kind := c.Query("kind"); kind != "" {
			event = event.Str("kind", kind)
		}
		event.
			Str("agent", agent).
			Str(requestIDKey, id).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin request")
	}
}

// RequestID returns the id HTTPMiddleware assigned to c, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
