package handler

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/internal/backend"
	"github.com/prohmpiriya/tutor-site/internal/middleware"
	"github.com/prohmpiriya/tutor-site/internal/session"
	"github.com/prohmpiriya/tutor-site/pkg/logger"
	"github.com/prohmpiriya/tutor-site/pkg/response"
	"go.uber.org/zap"
)

// Backend payment endpoints
const (
	createOrderPath = "/api/payments/create-order"
	orderPath       = "/api/payments/order"
	capturePath     = "/api/payments/capture"
)

// PaymentConfig holds the browser SDK settings exposed by /api/payments/config
type PaymentConfig struct {
	ClientID   string
	Currency   string
	CookieName string
}

// PaymentHandler bridges the checkout page to the backend's order endpoints
type PaymentHandler struct {
	backend Backend
	config  PaymentConfig
	log     *logger.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(b Backend, config PaymentConfig, log *logger.Logger) *PaymentHandler {
	if config.Currency == "" {
		config.Currency = "USD"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PaymentHandler{backend: b, config: config, log: log}
}

// Config returns the processor client id for SDK initialization
// GET /api/payments/config
func (h *PaymentHandler) Config(c *gin.Context) {
	if h.config.ClientID == "" {
		response.ConfigError(c, http.StatusNotImplemented, "Payment client id is not configured")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"clientId": h.config.ClientID,
		"currency": h.config.Currency,
	})
}

// CreateOrder forwards an order intent and relays the processor-assigned order id
// POST /api/payments/create-order
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	if !h.backend.Configured() {
		response.ConfigError(c, http.StatusInternalServerError, backend.MsgNotConfigured)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "Unable to read request body")
		return
	}
	if msg := checkOrderIntent(body); msg != "" {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", msg, nil)
		return
	}

	h.forward(c, http.MethodPost, createOrderPath, body, "Failed to create order")
}

// GetOrder relays the order status used by the success page
// GET /api/payments/order/:orderId
func (h *PaymentHandler) GetOrder(c *gin.Context) {
	h.forward(c, http.MethodGet, backend.JoinPath(orderPath, c.Param("orderId")), nil, "Failed to load order")
}

// Capture completes an approved order
// POST /api/payments/capture/:orderId
func (h *PaymentHandler) Capture(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "Unable to read request body")
		return
	}
	if len(body) == 0 {
		body = nil
	}
	h.forward(c, http.MethodPost, backend.JoinPath(capturePath, c.Param("orderId")), body, "Failed to capture payment")
}

func (h *PaymentHandler) forward(c *gin.Context, method, path string, body []byte, fallback string) {
	token, _ := session.ResolveToken(c.Request, h.config.CookieName)

	resp, err := h.backend.Do(c.Request.Context(), backend.Request{
		Method:    method,
		Path:      path,
		Body:      body,
		Token:     token,
		RequestID: middleware.GetRequestID(c),
	})
	if err != nil {
		h.log.Error("Payment backend call failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", path),
			zap.String("cause", backend.Cause(err)),
			zap.Error(err),
		)
		backend.WriteTransportError(c, err)
		return
	}

	if !resp.OK() {
		h.log.Warn("Payment backend returned error",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", path),
			zap.Int("status", resp.Status),
		)
	}
	backend.RelayResult(c, resp, fallback)
}

// checkOrderIntent rejects bodies that are not JSON objects or whose amount is
// not a finite, non-negative number. The minimum price rule is applied client-side
// against the item's list price.
func checkOrderIntent(body []byte) string {
	var intent map[string]interface{}
	if err := json.Unmarshal(body, &intent); err != nil || intent == nil {
		return "Order request must be a JSON object"
	}

	raw, ok := intent["amount"]
	if !ok {
		return ""
	}

	var amount float64
	switch v := raw.(type) {
	case float64:
		amount = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return "Amount must be a number"
		}
		amount = parsed
	default:
		return "Amount must be a number"
	}

	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return "Amount must be a finite, non-negative number"
	}
	return ""
}
