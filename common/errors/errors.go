package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error is the JSON error body shared by every handler.
type Error struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrorMiddleware renders the last error attached with c.Error when the
// handler did not write a response itself. Non-*Error values become a 500
// and are logged.
func ErrorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := err.(*Error)
		if !ok {
			logger.Error("Unhandled request error", zap.String("path", c.Request.URL.Path), zap.Error(err))
			appErr = New(http.StatusInternalServerError, "Internal server error", err)
		}
		c.AbortWithStatusJSON(appErr.Code, appErr)
	}
}
