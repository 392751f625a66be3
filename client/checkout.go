package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// CheckoutSessionKey is where the item being purchased is cached
	CheckoutSessionKey = "checkout_session"
	// CheckoutSessionTTL is how long a cached checkout stays usable
	CheckoutSessionTTL = time.Hour
	// MinimumPayment is the floor for any nonzero-priced item
	MinimumPayment = 0.01
)

var (
	ErrAmountInvalid      = errors.New("amount is not a valid number")
	ErrAmountBelowMinimum = errors.New("amount is below the minimum")
	ErrCheckoutExpired    = errors.New("checkout session expired")
)

// MinimumAmount is the lowest payment accepted for an item with listPrice.
// Free items accept 0; anything else pays at least the list price and never less than a cent.
func MinimumAmount(listPrice float64) float64 {
	if listPrice > 0 {
		return math.Max(listPrice, MinimumPayment)
	}
	return 0
}

// ValidateAmount parses a user-entered amount and checks it against the item's minimum
func ValidateAmount(raw string, listPrice float64) (float64, error) {
	amount, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrAmountInvalid, raw)
	}
	return amount, checkAmount(amount, listPrice)
}

func checkAmount(amount, listPrice float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrAmountInvalid
	}
	if minimum := MinimumAmount(listPrice); amount < minimum {
		return fmt.Errorf("%w: %.2f < %.2f", ErrAmountBelowMinimum, amount, minimum)
	}
	return nil
}

// CheckoutSession is the cached item being purchased. The price shown at checkout comes
// from here rather than from URL parameters.
type CheckoutSession struct {
	ItemID    string    `json:"itemId"`
	Title     string    `json:"title"`
	Amount    float64   `json:"amount"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrderIntent is what the checkout page sends to create-order
type OrderIntent struct {
	ItemID      string  `json:"itemId"`
	ItemName    string  `json:"itemName"`
	ItemType    string  `json:"itemType,omitempty"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	ReturnURL   string  `json:"returnUrl,omitempty"`
	CancelURL   string  `json:"cancelUrl,omitempty"`
	BuyerEmail  string  `json:"buyerEmail,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Order is a processor order as reported by the backend. Raw keeps the full body.
type Order struct {
	ID     string          `json:"id"`
	Status string          `json:"status,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// Checkout drives the client side of the payment flow
type Checkout struct {
	client *Client
	now    func() time.Time
}

// NewCheckout creates a Checkout on c
func NewCheckout(c *Client) *Checkout {
	return &Checkout{client: c, now: time.Now}
}

// SaveSession caches the item about to be purchased
func (co *Checkout) SaveSession(s CheckoutSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = co.now()
	}
	return co.client.storage.Set(CheckoutSessionKey, s)
}

// LoadSession returns the cached checkout for itemID. A session that is older than an hour
// or belongs to another item is discarded and ErrCheckoutExpired returned.
func (co *Checkout) LoadSession(itemID string) (*CheckoutSession, error) {
	var s CheckoutSession
	found, err := co.client.storage.Get(CheckoutSessionKey, &s)
	if err != nil {
		co.discardSession()
		return nil, fmt.Errorf("%w: %v", ErrCheckoutExpired, err)
	}
	if !found {
		return nil, ErrCheckoutExpired
	}
	if s.ItemID != itemID || co.now().Sub(s.CreatedAt) > CheckoutSessionTTL {
		co.discardSession()
		return nil, ErrCheckoutExpired
	}
	return &s, nil
}

func (co *Checkout) discardSession() {
	if err := co.client.storage.Delete(CheckoutSessionKey); err != nil {
		co.client.log.Warn("Failed to clear checkout session", zap.Error(err))
	}
}

// CreateOrder validates the amount against listPrice and asks the backend for an order
func (co *Checkout) CreateOrder(ctx context.Context, intent OrderIntent, listPrice float64) (*Order, error) {
	if err := checkAmount(intent.Amount, listPrice); err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("X-Idempotency-Key", uuid.New().String())

	body, err := co.client.do(ctx, http.MethodPost, "/api/payments/create-order", intent, header)
	if err != nil {
		return nil, err
	}
	return parseOrder(body)
}

// Capture captures an approved order. The checkout session is cleared only on success
// so a failed capture can be retried.
func (co *Checkout) Capture(ctx context.Context, orderID string) (*Order, error) {
	header := http.Header{}
	header.Set("X-Idempotency-Key", "capture-"+orderID)

	body, err := co.client.do(ctx, http.MethodPost, "/api/payments/capture/"+url.PathEscape(orderID), nil, header)
	if err != nil {
		return nil, err
	}
	co.discardSession()

	order, err := parseOrder(body)
	if err != nil {
		return nil, err
	}
	if order.ID == "" {
		order.ID = orderID
	}
	return order, nil
}

// Order looks up an order for the success page
func (co *Checkout) Order(ctx context.Context, orderID string) (*Order, error) {
	body, err := co.client.do(ctx, http.MethodGet, "/api/payments/order/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return nil, err
	}
	order, err := parseOrder(body)
	if err != nil {
		return nil, err
	}
	if order.ID == "" {
		order.ID = orderID
	}
	return order, nil
}

// parseOrder reads the order id from the first of id, orderId, orderID
func parseOrder(body []byte) (*Order, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	order := &Order{Raw: json.RawMessage(body)}
	for _, key := range []string{"id", "orderId", "orderID"} {
		if id, ok := fields[key].(string); ok && id != "" {
			order.ID = id
			break
		}
	}
	order.Status, _ = fields["status"].(string)
	return order, nil
}
