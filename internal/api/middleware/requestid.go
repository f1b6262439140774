package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request identifier in both directions.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestID assigns every request an identifier, reusing a well-formed
// inbound X-Request-ID. The id is echoed on the response and stored on the
// request context, and set on the inbound headers so the proxy forwards it
// to the origin.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
		}

		c.Set(HeaderRequestID, rid)
		c.Request.Header.Set(HeaderRequestID, rid)
		c.Header(HeaderRequestID, rid)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, rid))

		c.Next()
	}
}

// GetRequestID returns the request identifier stored by RequestID
func GetRequestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}
