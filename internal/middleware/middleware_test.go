package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID_GeneratesNew(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	headerID := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, headerID)
	assert.Equal(t, headerID, w.Body.String())
}

func TestRequestID_UsesExisting(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "existing-request-id-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "existing-request-id-123", w.Body.String())
}

func TestRequestID_RejectsOversized(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 500))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Len(t, w.Body.String(), 36)
}

func TestLogger_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger(logger.NewNop()))
	r.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestLogger_RecordsClientID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(Logger(&logger.Logger{Logger: zap.New(core)}))
	r.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(ClientIDHeader, "install-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterField(zap.String("client_id", "install-1")).All()
	assert.Len(t, entries, 1)
}

func TestCORS_AllowedOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"https://admin.example.com"})))
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_UnknownOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"https://admin.example.com"})))
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"*"})))
	r.POST("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardWithoutCredentials(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"*"})))
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_ExplicitOriginBeatsWildcard(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"*", "https://admin.example.com"})))
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern  string
		path     string
		expected bool
	}{
		{"/api/auth/login", "/api/auth/login", true},
		{"/api/courses/:id", "/api/courses/42", true},
		{"/api/courses/*", "/api/courses", false},
		{"/api/**", "/api/payments/order/1", true},
		{"/api/inquiries", "/api/testimonials", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, matchPath(tt.pattern, tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}

func TestLocalRateLimiter_Bucket(t *testing.T) {
	limiter := NewLocalRateLimiter(Limit{PerMinute: 60, Burst: 2}, time.Minute, time.Minute)
	defer limiter.Stop()

	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	allowed, _ := limiter.Allow("ip")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("ip")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("ip")
	assert.False(t, allowed)

	// one token per second at 60/min
	now = now.Add(time.Second)
	allowed, _ = limiter.Allow("ip")
	assert.True(t, allowed)

	got, rejected := limiter.Stats()
	assert.Equal(t, uint64(3), got)
	assert.Equal(t, uint64(1), rejected)
}

func TestRateLimiter_LoginBucket(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(DefaultRateLimitConfig(600, 60, 10, 2)))
	r.POST("/api/auth/login", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/courses", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), "TOO_MANY_REQUESTS")
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// reads use the default bucket
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/courses", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// MockScriptRunner is a mock implementation of ScriptRunner
type MockScriptRunner struct {
	mock.Mock
}

func (m *MockScriptRunner) EvalWithFallback(ctx context.Context, name, script string, keys []string, args ...interface{}) *redis.Cmd {
	called := m.Called(name, keys)
	return called.Get(0).(*redis.Cmd)
}

func TestRateLimiter_RedisRejects(t *testing.T) {
	runner := new(MockScriptRunner)
	runner.On("EvalWithFallback", "token_bucket", mock.Anything).
		Return(redis.NewCmdResult([]interface{}{int64(0), "0.25"}, nil))

	cfg := DefaultRateLimitConfig(600, 60, 10, 2)
	cfg.Redis = runner

	r := gin.New()
	r.Use(RateLimiter(cfg))
	r.POST("/api/auth/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	runner.AssertExpectations(t)
}

func TestRateLimiter_RedisErrorFailsOpen(t *testing.T) {
	runner := new(MockScriptRunner)
	runner.On("EvalWithFallback", "token_bucket", mock.Anything).
		Return(redis.NewCmdResult(nil, errors.New("connection refused")))

	cfg := DefaultRateLimitConfig(600, 60, 10, 2)
	cfg.Redis = runner

	r := gin.New()
	r.Use(RateLimiter(cfg))
	r.GET("/api/courses", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/courses", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
