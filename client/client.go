// Package client is the Go counterpart of the site's browser code: a session context
// backed by the auth proxy cookie, and the checkout flow around the payment proxy.
//
// Tokens decoded here are for display only. Authorization is always decided by the backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/prohmpiriya/tutor-site/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Config configures a Client
type Config struct {
	// BaseURL is the site origin, e.g. https://tutor.example.com
	BaseURL string
	Timeout time.Duration
	// Jar holds the session cookie; a fresh in-memory jar is used when nil
	Jar http.CookieJar
	// Storage holds the cached user and checkout session; memory when nil
	Storage Storage
	Logger  *logger.Logger
}

// Client talks to the site's proxy routes
type Client struct {
	baseURL string
	http    *http.Client
	storage Storage
	log     *logger.Logger
	// clientID is sent as X-Client-ID when the storage identifies the installation
	clientID string
}

// instanceIdentifier is implemented by storages that persist an installation ID
type instanceIdentifier interface {
	InstanceID() string
}

// New creates a client for cfg.BaseURL
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		cfg.Jar = jar
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	var clientID string
	if ident, ok := cfg.Storage.(instanceIdentifier); ok {
		clientID = ident.InstanceID()
	}

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     cfg.Jar,
		},
		storage:  cfg.Storage,
		log:      cfg.Logger,
		clientID: clientID,
	}, nil
}

// Storage returns the client's persistent storage
func (c *Client) Storage() Storage {
	return c.storage
}

// APIError is a non-2xx answer from a proxy route
type APIError struct {
	Status  int
	Code    string
	Message string
	Details interface{}
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// envelope is the proxy's error body
type envelope struct {
	Error *struct {
		Code    string      `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details"`
	} `json:"error"`
	Message string `json:"message"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			apiErr.Message = text
		}
		return apiErr
	}
	switch {
	case env.Error != nil:
		apiErr.Code = env.Error.Code
		apiErr.Details = env.Error.Details
		if env.Error.Message != "" {
			apiErr.Message = env.Error.Message
		}
	case env.Message != "":
		apiErr.Message = env.Message
	}
	return apiErr
}

// do sends a JSON request. Non-2xx statuses come back as *APIError; the raw body is
// returned on success.
func (c *Client) do(ctx context.Context, method, path string, in interface{}, header http.Header) ([]byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}
