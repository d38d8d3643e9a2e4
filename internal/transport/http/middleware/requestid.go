package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/taskflare/pubsub-scheduler/internal/requestid"
)

// RequestID injects a request ID into the context and response header.
// An incoming requestid.Header value is preserved; otherwise a new
// UUID v4 is generated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestid.Header)
		if id == "" {
			id = requestid.New()
		}

		ctx := requestid.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestid.Header, id)
		c.Next()
	}
}
