package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bubbleflow.app/relay/common/logger"
)

const HeaderRequestID = "X-Request-ID"

// RequestID propagates or generates X-Request-ID and attaches it to the
// request's log fields.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		c.Header(HeaderRequestID, requestID)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{RequestID: &requestID})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
