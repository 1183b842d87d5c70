package response

import (
	"net/http"

	"tenantrun/pkg/errors"
	"tenantrun/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the only body shape the service ever returns.
type Response struct {
	Message string `json:"message"`
}

// Success sends a 200 response carrying message.
func Success(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{Message: message})
}

// Error sends the fixed message of err's code. The cause is logged, with
// the stack for server errors.
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)
	if customErr.Code.HTTPStatus() >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request error", customErr.LogFields()...)
	} else {
		logger.Info(c.Request.Context(), "request rejected",
			zap.Int("code", int(customErr.Code)),
			zap.String("error", customErr.Error()),
		)
	}

	c.JSON(customErr.Code.HTTPStatus(), Response{Message: customErr.PublicMessage()})
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(c *gin.Context, code errors.ErrorCode) {
	Error(c, errors.New(code))
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// AbortWithErrorCode aborts the request with error code
func AbortWithErrorCode(c *gin.Context, code errors.ErrorCode) {
	ErrorWithCode(c, code)
	c.Abort()
}
