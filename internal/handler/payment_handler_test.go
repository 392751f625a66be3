package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/internal/backend"
	"github.com/prohmpiriya/tutor-site/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func setupPaymentRouter(b Backend, clientID string) *gin.Engine {
	h := NewPaymentHandler(b, PaymentConfig{ClientID: clientID}, nil)

	r := gin.New()
	payments := r.Group("/api/payments")
	payments.GET("/config", h.Config)
	payments.POST("/create-order", h.CreateOrder)
	payments.GET("/order/:orderId", h.GetOrder)
	payments.POST("/capture/:orderId", h.Capture)
	return r
}

func TestPaymentConfig(t *testing.T) {
	r := setupPaymentRouter(backend.NewClient(backend.Config{}), "paypal-client")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments/config", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"clientId":"paypal-client","currency":"USD"}`, w.Body.String())
}

func TestPaymentConfig_MissingClientID(t *testing.T) {
	r := setupPaymentRouter(backend.NewClient(backend.Config{}), "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments/config", nil))

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "CONFIG_ERROR", decodeErrorBody(t, w).Error.Code)
}

func TestCreateOrder_NotConfigured(t *testing.T) {
	r := setupPaymentRouter(backend.NewClient(backend.Config{}), "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payments/create-order", strings.NewReader(`{"amount":10}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "CONFIG_ERROR", decodeErrorBody(t, w).Error.Code)
}

func TestCreateOrder_RelaysOrderID(t *testing.T) {
	var gotAuth, gotBody string
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/create-order", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		writeJSON(w, http.StatusOK, `{"id":"5O190127TN364715T","status":"CREATED"}`)
	})
	r := setupPaymentRouter(backend.NewClient(backend.Config{BaseURL: fb.URL}), "")

	intent := `{"itemId":"lib-1","itemName":"Verb drills","itemType":"library","amount":12.5,"currency":"USD","email":"buyer@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/create-order", strings.NewReader(intent))
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "t.o.k"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"5O190127TN364715T","status":"CREATED"}`, w.Body.String())
	assert.Equal(t, "Bearer t.o.k", gotAuth)
	assert.JSONEq(t, intent, gotBody)
}

func TestCreateOrder_RejectsBadAmount(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	r := setupPaymentRouter(backend.NewClient(backend.Config{BaseURL: fb.URL}), "")

	for _, body := range []string{`{"amount":-1}`, `{"amount":"abc"}`, `{"amount":true}`, `not json`, `null`} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payments/create-order", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "VALIDATION_ERROR", decodeErrorBody(t, w).Error.Code)
	}
	assert.Equal(t, 0, fb.Calls())
}

func TestGetOrder_RelaysError(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/order/ORDER-9", r.URL.Path)
		writeJSON(w, http.StatusNotFound, `{"message":"Order not found"}`)
	})
	r := setupPaymentRouter(backend.NewClient(backend.Config{BaseURL: fb.URL}), "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments/order/ORDER-9", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeErrorBody(t, w)
	assert.Equal(t, "BACKEND_ERROR", body.Error.Code)
	assert.Equal(t, "Order not found", body.Error.Message)
	assert.Equal(t, map[string]interface{}{"message": "Order not found"}, body.Error.Details)
}

func TestCapture_Forwards(t *testing.T) {
	fb := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/payments/capture/ORDER-1", r.URL.Path)
		writeJSON(w, http.StatusCreated, `{"status":"COMPLETED"}`)
	})
	r := setupPaymentRouter(backend.NewClient(backend.Config{BaseURL: fb.URL}), "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payments/capture/ORDER-1", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, w.Body.String())
}

// MockBackend is a mock implementation of Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Do(ctx context.Context, req backend.Request) (*backend.Response, error) {
	args := m.Called(req.Method, req.Path)
	resp, _ := args.Get(0).(*backend.Response)
	return resp, args.Error(1)
}

func (m *MockBackend) Configured() bool {
	return true
}

func TestCapture_NetworkError(t *testing.T) {
	mb := new(MockBackend)
	mb.On("Do", http.MethodPost, "/api/payments/capture/ORDER-2").
		Return(nil, errors.New("dial tcp 10.0.0.1:443: i/o timeout"))
	r := setupPaymentRouter(mb, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payments/capture/ORDER-2", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "NETWORK_ERROR", decodeErrorBody(t, w).Error.Code)
	mb.AssertExpectations(t)
}
