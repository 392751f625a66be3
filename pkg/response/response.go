package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Success bool       `json:"success"`
	Error   *ErrorData `json:"error,omitempty"`
}

// ErrorData is the error half of the envelope.
// Details carries backend diagnostics: a parsed JSON value or a text body.
type ErrorData struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// NewError builds an error envelope without writing it
func NewError(code, message string, details interface{}) Response {
	return Response{
		Success: false,
		Error: &ErrorData{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func Error(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, NewError(code, message, details))
}

// Abort writes an error envelope and stops the handler chain
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, NewError(code, message, nil))
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// ConfigError reports a missing deployment setting; status is 500 or 501
func ConfigError(c *gin.Context, status int, message string) {
	Error(c, status, "CONFIG_ERROR", message, nil)
}
