package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/internal/backend"
	"github.com/prohmpiriya/tutor-site/internal/session"
	pkgmiddleware "github.com/prohmpiriya/tutor-site/pkg/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// memoryStore is an in-memory idempotency store
type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func setupIdempotentCaptureRouter(b Backend) *gin.Engine {
	h := NewPaymentHandler(b, PaymentConfig{}, nil)
	cfg := pkgmiddleware.DefaultIdempotencyConfig(&memoryStore{data: make(map[string]string)})
	cfg.Subject = func(c *gin.Context) string {
		token, _ := session.ResolveToken(c.Request, session.DefaultCookieName)
		return token
	}

	r := gin.New()
	r.POST("/api/payments/capture/:orderId", pkgmiddleware.Idempotency(cfg), h.Capture)
	return r
}

func postCapture(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/capture/ORDER-1", nil)
	req.Header.Set(pkgmiddleware.IdempotencyKeyHeader, "capture-ORDER-1")
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCapture_RetryAfterClientErrorReachesBackend(t *testing.T) {
	var attempt int32
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempt, 1) == 1 {
			writeJSON(w, http.StatusUnprocessableEntity, `{"message":"INSTRUMENT_DECLINED"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"status":"COMPLETED"}`)
	})
	r := setupIdempotentCaptureRouter(backend.NewClient(backend.Config{BaseURL: fb.URL}))

	first := postCapture(r, "a.b.c")
	assert.Equal(t, http.StatusUnprocessableEntity, first.Code)

	second := postCapture(r, "a.b.c")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Empty(t, second.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, `{"status":"COMPLETED"}`, second.Body.String())
	assert.Equal(t, 2, fb.Calls())

	third := postCapture(r, "a.b.c")
	assert.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, "true", third.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, 2, fb.Calls())
}

func TestCapture_RetryWithNewSessionAfterUnauthorized(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer new.to.ken" {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Token expired"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"status":"COMPLETED"}`)
	})
	r := setupIdempotentCaptureRouter(backend.NewClient(backend.Config{BaseURL: fb.URL}))

	first := postCapture(r, "old.to.ken")
	assert.Equal(t, http.StatusUnauthorized, first.Code)

	second := postCapture(r, "new.to.ken")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.NotContains(t, second.Body.String(), "IDEMPOTENCY_KEY_REUSED")
	assert.Equal(t, 2, fb.Calls())
}
