package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modelmarket/proxy-api/internal/auth"
)

// identityKey is the gin context key the resolved identity is stored
// under.
const identityKey = "identity"

// Auth authenticates the platform API key. The credential is accepted
// from either an Authorization Bearer header or an x-api-key header,
// matching the two upstream ecosystems callers already integrate with.
func Auth(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := extractCredential(c)

		id, err := gate.Authenticate(c.Request.Context(), credential)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the authenticated identity set by Auth.
func IdentityFrom(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*auth.Identity)
	return id, ok
}

func extractCredential(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return c.GetHeader("x-api-key")
}
