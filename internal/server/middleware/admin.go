package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modelmarket/proxy-api/pkg/api"
)

// AdminAuth guards the admin surface with statically configured keys.
// Admin keys are operator credentials, not customer API keys, and are
// never stored in the database.
func AdminAuth(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			_ = c.Error(api.Unauthenticated("missing admin credentials"))
			c.Abort()
			return
		}

		token := parts[1]
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(token), []byte(k)) == 1 {
				c.Next()
				return
			}
		}

		_ = c.Error(api.Unauthenticated("invalid admin credentials"))
		c.Abort()
	}
}
