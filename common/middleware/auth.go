package middleware

import (
	"strings"

	"github.com/mrugaya/storefront-backend/common/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const UserKey = "userID"

// OptionalAuth attaches the user id from a valid bearer token. Guest checkout
// is allowed, so a missing or invalid token never rejects the request.
func OptionalAuth(parser *auth.TokenParser, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !parser.Enabled() || !strings.HasPrefix(header, "Bearer ") {
			c.Next()
			return
		}

		userID, err := parser.UserID(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			log.Debug("ignoring invalid bearer token", zap.Error(err))
			c.Next()
			return
		}
		c.Set(UserKey, userID)
		c.Next()
	}
}

// GetUserID returns the authenticated user id, or "" for guests.
func GetUserID(c *gin.Context) string {
	if val, ok := c.Get(UserKey); ok {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}
