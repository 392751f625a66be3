package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubRedis struct{ err error }

func (s stubRedis) HealthCheck(ctx context.Context) error { return s.err }

type stubBackend struct {
	configured bool
	err        error
}

func (s stubBackend) Configured() bool               { return s.configured }
func (s stubBackend) Ping(ctx context.Context) error { return s.err }

func TestHealthHandler_Health(t *testing.T) {
	handler := NewHealthHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	handler.Health(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestHealthHandler_Ready_NoConnections(t *testing.T) {
	handler := NewHealthHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

	handler.Ready(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "not configured")
}

func TestHealthHandler_Ready_States(t *testing.T) {
	tests := []struct {
		name    string
		redis   RedisChecker
		backend BackendChecker
		status  int
	}{
		{"all healthy", stubRedis{}, stubBackend{configured: true}, http.StatusOK},
		{"redis down", stubRedis{err: errors.New("down")}, stubBackend{configured: true}, http.StatusServiceUnavailable},
		{"backend unreachable", stubRedis{}, stubBackend{configured: true, err: errors.New("refused")}, http.StatusServiceUnavailable},
		{"backend not configured", stubRedis{}, stubBackend{}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.redis, tt.backend)

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

			handler.Ready(c)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}
