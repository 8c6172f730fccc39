package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/modelmarket/proxy-api/pkg/api"
	"go.uber.org/zap"
)

// ErrorHandler translates errors attached by handlers into the
// standard JSON error shape. Status codes come from the error kind
// table, never from message inspection.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		if c.Writer.Written() {
			// a streaming handler already committed the response
			return
		}

		apiErr := api.AsError(c.Errors.Last().Err)
		if apiErr.Log != nil {
			logger.Error("Request failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("kind", string(apiErr.Kind)),
				zap.Error(apiErr.Log))
		}

		c.JSON(apiErr.Status(), api.ErrorBody{Error: apiErr.Message})
		c.Abort()
	}
}
