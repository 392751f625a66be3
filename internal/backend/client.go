package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prohmpiriya/tutor-site/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotConfigured is returned when no backend base URL is set
var ErrNotConfigured = errors.New("backend URL not configured")

// maxBodySize caps how much of a backend response is buffered
const maxBodySize = 10 << 20

// Config holds backend client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client sends requests to the content/payment backend
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a backend client. An empty BaseURL yields a client whose calls fail with ErrNotConfigured.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		// per-request deadlines come from the context
		http: &http.Client{Transport: transport},
	}
}

// Configured reports whether a base URL is set
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request describes one outbound backend call
type Request struct {
	Method    string
	Path      string
	RawQuery  string
	Body      []byte
	Token     string        // sent as Authorization: Bearer when set
	RequestID string        // forwarded as X-Request-ID
	Timeout   time.Duration // overrides the client timeout when set
}

// Response is a fully buffered backend response
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ContentType returns the response media type without parameters
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}

// IsJSON reports whether the backend labelled the body as JSON
func (r *Response) IsJSON() bool {
	ct := r.ContentType()
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

// Details returns the body for error relaying: the decoded value for JSON, the text otherwise.
// An empty body yields nil.
func (r *Response) Details() interface{} {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if r.IsJSON() {
		var v interface{}
		if err := json.Unmarshal(r.Body, &v); err == nil {
			return v
		}
	}
	return string(r.Body)
}

// Message returns a "message" or "error" string field from a JSON body, if any
func (r *Response) Message() string {
	obj, ok := r.Details().(map[string]interface{})
	if !ok {
		return ""
	}
	for _, key := range []string{"message", "error"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Do sends the request and buffers the response. Any HTTP status is a successful Do;
// errors are configuration, transport or timeout failures.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "backend."+strings.ToLower(req.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("backend.path", req.Path),
		),
	)
	defer span.End()

	target := c.baseURL + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	telemetry.InjectHeaders(ctx, httpReq.Header)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("backend %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, resp.Status)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// Ping reports whether the backend answers HTTP at all; any status counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	_, err := c.Do(ctx, Request{Method: http.MethodHead, Path: "/", Timeout: 5 * time.Second})
	return err
}

// JoinPath appends escaped segments to a backend path
func JoinPath(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, s := range segments {
		if s == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnection reports whether err is a dial or DNS failure
func IsConnection(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}

// Cause classifies a transport error for logging
func Cause(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTimeout(err):
		return "timeout"
	case IsConnection(err):
		return "connection"
	default:
		return "other"
	}
}
