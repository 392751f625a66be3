package backend

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/pkg/response"
)

// User-facing messages for backend auth failures
const (
	MsgSessionExpired   = "Your session has expired. Please log in again."
	MsgPermissionDenied = "You do not have permission to perform this action."
	MsgNetworkError     = "Unable to reach the backend service. Please try again."
	MsgNotConfigured    = "Backend URL is not configured"
)

// Relay writes a backend response to the caller unchanged
func Relay(c *gin.Context, resp *Response) {
	if len(resp.Body) == 0 {
		c.Status(resp.Status)
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.Status, contentType, resp.Body)
}

// RelayError wraps a non-2xx backend response in the error envelope, keeping its status
// and body under details.
func RelayError(c *gin.Context, resp *Response, code, message string) {
	response.Error(c, resp.Status, code, message, resp.Details())
}

// ErrorFor picks the error code and message for a non-2xx backend response.
// 401 and 403 get local wording; anything else prefers the backend's own message.
func ErrorFor(resp *Response, fallback string) (string, string) {
	switch resp.Status {
	case http.StatusUnauthorized:
		return "UNAUTHORIZED", MsgSessionExpired
	case http.StatusForbidden:
		return "FORBIDDEN", MsgPermissionDenied
	}
	if msg := resp.Message(); msg != "" {
		return "BACKEND_ERROR", msg
	}
	return "BACKEND_ERROR", fallback
}

// RelayResult relays success verbatim and normalizes failures
func RelayResult(c *gin.Context, resp *Response, fallback string) {
	if resp.OK() {
		Relay(c, resp)
		return
	}
	code, message := ErrorFor(resp, fallback)
	RelayError(c, resp, code, message)
}

// WriteTransportError reports a failed Do: missing configuration or a network failure.
// Raw errors are for server logs only.
func WriteTransportError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotConfigured) {
		response.ConfigError(c, http.StatusInternalServerError, MsgNotConfigured)
		return
	}
	_ = c.Error(err)
	response.Error(c, http.StatusInternalServerError, "NETWORK_ERROR", MsgNetworkError, nil)
}
