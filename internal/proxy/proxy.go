// Package proxy forwards the site's content resources to the backend.
//
// Each resource maps a local collection route, plus /:id, to a fixed backend path.
// Writes need a session token unless the resource lists the method as public.
// Successful backend responses are relayed unchanged and errors use the shared
// envelope. Optional extras are fixture fallback for public list reads and a Redis
// cache for anonymous GETs.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/internal/backend"
	"github.com/prohmpiriya/tutor-site/internal/fixtures"
	"github.com/prohmpiriya/tutor-site/internal/middleware"
	"github.com/prohmpiriya/tutor-site/internal/session"
	"github.com/prohmpiriya/tutor-site/pkg/logger"
	"github.com/prohmpiriya/tutor-site/pkg/response"
	"github.com/prohmpiriya/tutor-site/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DataSourceHeader marks responses served from fixtures
const DataSourceHeader = "X-Data-Source"

// Backend is the outbound client the proxy forwards to
type Backend interface {
	Do(ctx context.Context, req backend.Request) (*backend.Response, error)
	Configured() bool
}

// Config holds optional proxy behavior
type Config struct {
	CookieName string
	// Fixtures enables fallback data when non-nil
	Fixtures *fixtures.Store
	// Cache enables public read caching when non-nil and CacheTTL > 0
	Cache    Cache
	CacheTTL time.Duration
}

// Handler serves the resource table
type Handler struct {
	backend   Backend
	resources []Resource
	config    Config
	log       *logger.Logger
	now       func() time.Time
}

// NewHandler creates a resource proxy
func NewHandler(b Backend, resources []Resource, config Config, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		backend:   b,
		resources: resources,
		config:    config,
		log:       log,
		now:       time.Now,
	}
}

// Register mounts every resource route on r
func (h *Handler) Register(r gin.IRouter) {
	for _, res := range h.resources {
		handle := h.Serve(res)
		for _, route := range res.Routes {
			r.GET(route, handle)
			r.POST(route, handle)
			r.GET(route+"/:id", handle)
			r.PUT(route+"/:id", handle)
			r.PATCH(route+"/:id", handle)
			r.DELETE(route+"/:id", handle)
		}
	}
}

// Serve returns the handler for one resource
func (h *Handler) Serve(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := telemetry.StartSpan(c.Request.Context(), "proxy."+res.Name)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		method := c.Request.Method
		id := c.Param("id")
		requestID := middleware.GetRequestID(c)
		span.SetAttributes(
			attribute.String("resource", res.Name),
			attribute.String("http.method", method),
		)

		token, _ := session.ResolveToken(c.Request, h.config.CookieName)
		if token == "" && res.requiresAuth(method) {
			response.Unauthorized(c, "Authentication required")
			return
		}
		if res.validatesToken(method) {
			if _, err := session.Validate(token, h.now()); err != nil {
				h.rejectToken(c, err)
				return
			}
		}

		var body []byte
		if !isRead(method) {
			var err error
			if body, err = io.ReadAll(c.Request.Body); err != nil {
				response.BadRequest(c, "Unable to read request body")
				return
			}
			if len(body) == 0 {
				body = nil
			}
			if res.Moderated && method == http.MethodPost {
				if body, err = forceUnapproved(body); err != nil {
					response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be a JSON object", nil)
					return
				}
			}
		}

		cacheable := h.cacheEnabled() && method == http.MethodGet && token == ""
		key := cacheKey(res.Name, c.Request.URL.Path, c.Request.URL.RawQuery)
		if cacheable {
			if cached, ok := h.config.Cache.Get(ctx, key); ok {
				c.Header("X-Cache", "HIT")
				c.Data(http.StatusOK, cached.ContentType, cached.Body)
				return
			}
		}

		resp, err := h.forward(ctx, res, backend.Request{
			Method:    method,
			RawQuery:  c.Request.URL.RawQuery,
			Body:      body,
			Token:     token,
			RequestID: requestID,
		}, id)

		fallbackOK := h.fallbackEligible(res, method, id)
		if err != nil {
			if fallbackOK && !errors.Is(err, backend.ErrNotConfigured) && h.serveFallback(c, res, err.Error()) {
				return
			}
			h.log.Error("Proxy backend call failed",
				zap.String("request_id", requestID),
				zap.String("resource", res.Name),
				zap.String("cause", backend.Cause(err)),
				zap.Error(err),
			)
			backend.WriteTransportError(c, err)
			return
		}
		span.SetAttributes(attribute.Int("backend.status", resp.Status))

		if resp.Status >= http.StatusInternalServerError && fallbackOK &&
			h.serveFallback(c, res, http.StatusText(resp.Status)) {
			return
		}

		if resp.OK() {
			if cacheable && resp.Status == http.StatusOK {
				h.store(ctx, key, resp)
			}
			if !isRead(method) && h.config.Cache != nil {
				if err := h.config.Cache.Invalidate(ctx, res.Name); err != nil {
					h.log.Warn("Cache invalidation failed", zap.String("resource", res.Name), zap.Error(err))
				}
			}
		}

		backend.RelayResult(c, resp, "Request to "+res.Name+" failed")
	}
}

// forward sends req to each backend path in turn until one answers with something other than 404
func (h *Handler) forward(ctx context.Context, res Resource, req backend.Request, id string) (*backend.Response, error) {
	var last *backend.Response
	for _, path := range res.backendPaths() {
		req.Path = backend.JoinPath(path, id)
		resp, err := h.backend.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Status != http.StatusNotFound {
			return resp, nil
		}
		last = resp
	}
	return last, nil
}

func (h *Handler) rejectToken(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNoToken):
		response.Unauthorized(c, "Authentication required")
	case errors.Is(err, session.ErrTokenExpired):
		response.Error(c, http.StatusUnauthorized, "TOKEN_EXPIRED", backend.MsgSessionExpired, nil)
	default:
		response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid session token. Please log in again.", nil)
	}
}

func (h *Handler) cacheEnabled() bool {
	return h.config.Cache != nil && h.config.CacheTTL > 0
}

func (h *Handler) store(ctx context.Context, key string, resp *backend.Response) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	err := h.config.Cache.Set(ctx, key, &CachedResponse{ContentType: contentType, Body: resp.Body}, h.config.CacheTTL)
	if err != nil {
		h.log.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (h *Handler) fallbackEligible(res Resource, method, id string) bool {
	return h.config.Fixtures != nil && res.Fallback && method == http.MethodGet && id == ""
}

// serveFallback writes fixture data for res. The response is flagged and logged
// so a backend outage stays visible.
func (h *Handler) serveFallback(c *gin.Context, res Resource, reason string) bool {
	data, ok := h.config.Fixtures.List(res.Name)
	if !ok {
		return false
	}
	h.log.Warn("Serving fallback data",
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("resource", res.Name),
		zap.String("reason", reason),
	)
	c.Header(DataSourceHeader, "fallback")
	c.Data(http.StatusOK, "application/json", data)
	return true
}

// forceUnapproved sets approved=false on a JSON object body
func forceUnapproved(body []byte) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if body != nil {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, errors.New("body is null")
		}
	}
	fields["approved"] = json.RawMessage("false")
	return json.Marshal(fields)
}
