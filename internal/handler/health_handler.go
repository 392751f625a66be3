package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RedisChecker reports Redis health
type RedisChecker interface {
	HealthCheck(ctx context.Context) error
}

// BackendChecker reports backend reachability
type BackendChecker interface {
	Configured() bool
	Ping(ctx context.Context) error
}

// HealthHandler handles liveness and readiness probes
type HealthHandler struct {
	redis   RedisChecker
	backend BackendChecker
}

// NewHealthHandler creates a new HealthHandler. Nil checkers report "not configured".
func NewHealthHandler(redis RedisChecker, backend BackendChecker) *HealthHandler {
	return &HealthHandler{redis: redis, backend: backend}
}

// Health is the liveness probe
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready is the readiness probe
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true

	switch {
	case h.redis == nil:
		checks["redis"] = "not configured"
	case h.redis.HealthCheck(ctx) != nil:
		checks["redis"] = "unhealthy"
		ready = false
	default:
		checks["redis"] = "healthy"
	}

	switch {
	case h.backend == nil || !h.backend.Configured():
		checks["backend"] = "not configured"
	case h.backend.Ping(ctx) != nil:
		checks["backend"] = "unreachable"
		ready = false
	default:
		checks["backend"] = "healthy"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}

	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
