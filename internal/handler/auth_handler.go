package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/internal/backend"
	"github.com/prohmpiriya/tutor-site/internal/middleware"
	"github.com/prohmpiriya/tutor-site/internal/session"
	"github.com/prohmpiriya/tutor-site/pkg/logger"
	"github.com/prohmpiriya/tutor-site/pkg/response"
	"github.com/prohmpiriya/tutor-site/pkg/retry"
	"go.uber.org/zap"
)

// errBackendUnstable marks a 500 from the authenticate endpoint as retryable
var errBackendUnstable = errors.New("backend returned 500")

// AuthConfig holds login proxy settings
type AuthConfig struct {
	AuthPath string
	Cookie   session.CookieOptions
	Retry    *retry.Config
}

// AuthHandler handles login, logout and session verification
type AuthHandler struct {
	backend Backend
	config  AuthConfig
	log     *logger.Logger
	now     func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(b Backend, config AuthConfig, log *logger.Logger) *AuthHandler {
	if config.AuthPath == "" {
		config.AuthPath = "/api/auth/authenticate"
	}
	if config.Retry == nil {
		config.Retry = retry.Fixed(2, time.Second, 10*time.Second)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &AuthHandler{
		backend: b,
		config:  config,
		log:     log,
		now:     time.Now,
	}
}

// Login exchanges credentials for a token and stores it in the session cookie
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.backend.Configured() {
		response.ConfigError(c, http.StatusInternalServerError, backend.MsgNotConfigured)
		return
	}

	// Credentials are forwarded untouched; the backend validates them
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "Unable to read request body")
		return
	}

	requestID := middleware.GetRequestID(c)
	var resp *backend.Response

	op := func(ctx context.Context) error {
		resp = nil
		r, err := h.backend.Do(ctx, backend.Request{
			Method:    http.MethodPost,
			Path:      h.config.AuthPath,
			Body:      body,
			RequestID: requestID,
			Timeout:   h.config.Retry.AttemptTimeout,
		})
		if err != nil {
			if errors.Is(err, backend.ErrNotConfigured) {
				return retry.Permanent(err)
			}
			return err
		}
		resp = r
		if r.Status == http.StatusInternalServerError {
			return errBackendUnstable
		}
		return nil
	}

	result := retry.DoWithCallback(c.Request.Context(), h.config.Retry, op, func(attempt int, err error, next time.Duration) {
		h.log.Warn("Login attempt failed, retrying",
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", next),
			zap.Error(err),
		)
	})

	if resp == nil {
		h.log.Error("Login failed: backend unreachable",
			zap.String("request_id", requestID),
			zap.Int("attempts", result.Attempts),
			zap.String("cause", backend.Cause(result.LastError)),
			zap.Error(result.LastError),
		)
		response.Error(c, http.StatusInternalServerError, "NETWORK_ERROR", "Login failed. Please try again later.", nil)
		return
	}

	if !resp.OK() {
		code, message := loginError(resp.Status)
		backend.RelayError(c, resp, code, message)
		return
	}

	if token, ok := session.ExtractToken(resp.Body); ok {
		session.SetCookie(c.Writer, token, h.config.Cookie)
	} else {
		h.log.Warn("Login response carried no token field",
			zap.String("request_id", requestID),
			zap.Strings("fields", session.TokenFields),
		)
	}

	backend.Relay(c, resp)
}

func loginError(status int) (string, string) {
	switch status {
	case http.StatusUnauthorized:
		return "INVALID_CREDENTIALS", "Invalid username or password"
	case http.StatusInternalServerError:
		return "BACKEND_UNSTABLE", "The login service is unstable right now. Please try again shortly."
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "SERVICE_UNAVAILABLE", "The login service is temporarily unavailable. Please try again later."
	default:
		return "BACKEND_ERROR", fmt.Sprintf("Login failed (status %d)", status)
	}
}

// Logout clears the session cookie unconditionally
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	session.ClearCookie(c.Writer, h.config.Cookie)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out",
	})
}

// VerifyResponse is the body of a successful verify
type VerifyResponse struct {
	JWT           string       `json:"jwt"`
	Token         string       `json:"token"`
	Authenticated bool         `json:"authenticated"`
	User          session.User `json:"user"`
}

// Verify checks the session cookie locally without calling the backend
// GET /api/auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	cookie, err := c.Cookie(h.cookieName())
	if err != nil || cookie == "" {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	claims, err := session.Validate(cookie, h.now())
	switch {
	case errors.Is(err, session.ErrTokenExpired):
		response.Error(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired", nil)
		return
	case err != nil:
		response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", nil)
		return
	}

	c.JSON(http.StatusOK, VerifyResponse{
		JWT:           cookie,
		Token:         cookie,
		Authenticated: true,
		User:          session.UserFromClaims(claims, "Admin"),
	})
}

func (h *AuthHandler) cookieName() string {
	if h.config.Cookie.Name == "" {
		return session.DefaultCookieName
	}
	return h.config.Cookie.Name
}
