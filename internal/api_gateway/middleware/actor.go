package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ActorIDHeader identifies the operator behind a request
	ActorIDHeader = "X-Actor-ID"

	// ActorIDKey is the key used to store the actor in the context
	ActorIDKey = "actor_id"
)

// Actor stores the X-Actor-ID header value. Handlers that change reconciliation state
// require it; read-only endpoints ignore it.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := strings.TrimSpace(c.GetHeader(ActorIDHeader)); actor != "" {
			c.Set(ActorIDKey, actor)
		}
		c.Next()
	}
}

// GetActor returns the actor of the request, or "" when none was sent
func GetActor(c *gin.Context) string {
	return c.GetString(ActorIDKey)
}
