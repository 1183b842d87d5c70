package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"tenantrun/pkg/errors"
	"tenantrun/pkg/utils/logger"
	"tenantrun/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a panic anywhere below it into a logged 500 with the fixed
// internal error message.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error(c.Request.Context(), "panic while handling request",
			zap.String("panic", fmt.Sprint(recovered)),
			zap.ByteString("stack", debug.Stack()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Message: errors.InternalServerError.Message(),
		})
	})
}
