package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/pkg/response"
	"github.com/prohmpiriya/tutor-site/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Limit is a token bucket: Burst tokens, refilled at PerMinute tokens per minute
type Limit struct {
	PerMinute int
	Burst     int
}

func (l Limit) perSecond() float64 {
	return float64(l.PerMinute) / 60
}

// EndpointLimit applies a Limit to matching routes
type EndpointLimit struct {
	// PathPattern matches the registered route (supports *, ** and :param segments)
	PathPattern string
	// Methods this limit applies to (empty = all methods)
	Methods []string
	Limit   Limit
}

// ScriptRunner runs the token bucket script; satisfied by pkg/redis.Client
type ScriptRunner interface {
	EvalWithFallback(ctx context.Context, name, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RateLimitConfig holds per-endpoint rate limiting configuration
type RateLimitConfig struct {
	Default Limit
	// Endpoints are checked in order; first match wins
	Endpoints []EndpointLimit
	// Redis enables the distributed limiter when set
	Redis     ScriptRunner
	KeyPrefix string
	// Local limiter housekeeping
	CleanupInterval time.Duration
	EntryTTL        time.Duration
}

// DefaultRateLimitConfig builds the site's limits: a general bucket, a tight bucket for
// login, and a public-submission bucket for inquiries and testimonials.
func DefaultRateLimitConfig(perMinute, burst, loginPerMinute, loginBurst int) RateLimitConfig {
	submissions := Limit{PerMinute: loginPerMinute, Burst: loginBurst}

	return RateLimitConfig{
		Default: Limit{PerMinute: perMinute, Burst: burst},
		Endpoints: []EndpointLimit{
			{PathPattern: "/api/auth/login", Methods: []string{http.MethodPost}, Limit: Limit{PerMinute: loginPerMinute, Burst: loginBurst}},
			{PathPattern: "/api/inquiries", Methods: []string{http.MethodPost}, Limit: submissions},
			{PathPattern: "/api/testimonials", Methods: []string{http.MethodPost}, Limit: submissions},
		},
		KeyPrefix:       "ratelimit:",
		CleanupInterval: time.Minute,
		EntryTTL:        5 * time.Minute,
	}
}

// rateLimitEntry tracks bucket state for one client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// LocalRateLimiter implements in-memory token bucket rate limiting
type LocalRateLimiter struct {
	limit   Limit
	entries sync.Map
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time

	totalAllowed  uint64
	totalRejected uint64
}

// NewLocalRateLimiter creates a local limiter and starts its cleanup goroutine
func NewLocalRateLimiter(limit Limit, cleanupInterval, entryTTL time.Duration) *LocalRateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	if entryTTL <= 0 {
		entryTTL = 5 * time.Minute
	}

	rl := &LocalRateLimiter{
		limit: limit,
		ttl:   entryTTL,
		stop:  make(chan struct{}),
		now:   time.Now,
	}
	go rl.cleanup(cleanupInterval)
	return rl
}

// Allow takes one token for key and returns the tokens left
func (rl *LocalRateLimiter) Allow(key string) (bool, float64) {
	now := rl.now()

	entry, _ := rl.entries.LoadOrStore(key, &rateLimitEntry{
		tokens:     float64(rl.limit.Burst),
		lastUpdate: now,
	})
	e := entry.(*rateLimitEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := now.Sub(e.lastUpdate).Seconds()
	e.tokens = math.Min(float64(rl.limit.Burst), e.tokens+elapsed*rl.limit.perSecond())
	e.lastUpdate = now

	if e.tokens >= 1 {
		e.tokens--
		atomic.AddUint64(&rl.totalAllowed, 1)
		return true, e.tokens
	}

	atomic.AddUint64(&rl.totalRejected, 1)
	return false, e.tokens
}

// Stats returns allowed and rejected counts
func (rl *LocalRateLimiter) Stats() (allowed, rejected uint64) {
	return atomic.LoadUint64(&rl.totalAllowed), atomic.LoadUint64(&rl.totalRejected)
}

func (rl *LocalRateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := rl.now().Add(-rl.ttl)
			rl.entries.Range(func(key, value interface{}) bool {
				e := value.(*rateLimitEntry)
				e.mu.Lock()
				if e.lastUpdate.Before(cutoff) {
					rl.entries.Delete(key)
				}
				e.mu.Unlock()
				return true
			})
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *LocalRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last_update = tonumber(data[2]) or now

tokens = math.min(burst, tokens + (now - last_update) * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_update", now)
redis.call("EXPIRE", key, 300)
return {allowed, tostring(tokens)}
`

// RedisRateLimiter implements a distributed token bucket shared by all instances
type RedisRateLimiter struct {
	runner    ScriptRunner
	keyPrefix string
}

// NewRedisRateLimiter creates a Redis-backed limiter
func NewRedisRateLimiter(runner ScriptRunner, keyPrefix string) *RedisRateLimiter {
	return &RedisRateLimiter{runner: runner, keyPrefix: keyPrefix}
}

// Allow takes one token for key under limit
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, float64, error) {
	now := float64(time.Now().UnixNano()) / 1e9

	values, err := rl.runner.EvalWithFallback(ctx, "token_bucket", tokenBucketScript,
		[]string{rl.keyPrefix + key},
		limit.perSecond(),
		limit.Burst,
		now,
	).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(values) < 2 {
		return false, 0, fmt.Errorf("unexpected result length: %d", len(values))
	}

	allowed, _ := values[0].(int64)
	var remaining float64
	switch v := values[1].(type) {
	case string:
		remaining, _ = strconv.ParseFloat(v, 64)
	case int64:
		remaining = float64(v)
	}

	return allowed == 1, remaining, nil
}

// matchPath checks if a request path matches a pattern.
// * and :param match one segment, ** matches the rest.
func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}

	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")

	pi := 0
	for i := 0; i < len(pathParts); i++ {
		if pi >= len(patternParts) {
			return false
		}

		part := patternParts[pi]
		switch {
		case part == "**":
			return true
		case part == "*", strings.HasPrefix(part, ":"):
		case part != pathParts[i]:
			return false
		}
		pi++
	}

	return pi == len(patternParts)
}

// containsMethod checks if a method is in the list (empty list matches all)
func containsMethod(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (c *RateLimitConfig) limitFor(method, path string) Limit {
	for _, endpoint := range c.Endpoints {
		if matchPath(endpoint.PathPattern, path) && containsMethod(endpoint.Methods, method) {
			return endpoint.Limit
		}
	}
	return c.Default
}

// RateLimiter applies per-endpoint token buckets keyed by client IP.
// Redis errors fail open.
func RateLimiter(config RateLimitConfig) gin.HandlerFunc {
	var locals sync.Map // map[Limit]*LocalRateLimiter
	var redisLimiter *RedisRateLimiter
	if config.Redis != nil {
		redisLimiter = NewRedisRateLimiter(config.Redis, config.KeyPrefix)
	}

	localFor := func(limit Limit) *LocalRateLimiter {
		if limiter, ok := locals.Load(limit); ok {
			return limiter.(*LocalRateLimiter)
		}
		limiter := NewLocalRateLimiter(limit, config.CleanupInterval, config.EntryTTL)
		actual, loaded := locals.LoadOrStore(limit, limiter)
		if loaded {
			limiter.Stop()
		}
		return actual.(*LocalRateLimiter)
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		limit := config.limitFor(c.Request.Method, path)
		if limit.PerMinute <= 0 || limit.Burst <= 0 {
			c.Next()
			return
		}

		ctx, span := telemetry.StartSpan(c.Request.Context(), "middleware.rate_limiter")
		defer span.End()

		clientIP := c.ClientIP()
		span.SetAttributes(
			attribute.String("client_ip", clientIP),
			attribute.String("path", path),
			attribute.Int("per_minute", limit.PerMinute),
		)

		var allowed bool
		var remaining float64
		if redisLimiter != nil {
			key := fmt.Sprintf("%s:%d:%d:%s", path, limit.PerMinute, limit.Burst, clientIP)
			var err error
			allowed, remaining, err = redisLimiter.Allow(ctx, key, limit)
			if err != nil {
				span.RecordError(err)
				allowed, remaining = true, float64(limit.Burst)
			}
		} else {
			allowed, remaining = localFor(limit).Allow(clientIP + "|" + path)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.PerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, remaining))))

		if !allowed {
			span.SetStatus(codes.Error, "rate limit exceeded")

			retryAfter := int(math.Ceil((1 - remaining) / limit.perSecond()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			response.Abort(c, http.StatusTooManyRequests, "TOO_MANY_REQUESTS",
				"Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" second(s).")
			return
		}

		c.Next()
	}
}
