package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int // in seconds
}

// DefaultCORSConfig allows the listed origins to call the API with the session cookie.
// The site itself is same-origin and needs no CORS; this serves dashboard tooling hosted elsewhere.
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Request-ID",
			"X-Idempotency-Key",
			"X-Client-ID",
		},
		ExposeHeaders: []string{
			"Content-Type",
			"X-Request-ID",
			"X-Data-Source",
		},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}

// CORS only answers origins on the allow list. Credentials are granted to
// explicitly listed origins only; a "*" entry answers with a literal wildcard.
func CORS(config CORSConfig) gin.HandlerFunc {
	allowMethods := strings.Join(config.AllowMethods, ", ")
	allowHeaders := strings.Join(config.AllowHeaders, ", ")
	exposeHeaders := strings.Join(config.ExposeHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}
		explicit, wildcard := matchOrigin(config.AllowOrigins, origin)
		if !explicit && !wildcard {
			c.Next()
			return
		}

		if explicit {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		} else {
			c.Header("Access-Control-Allow-Origin", "*")
		}
		c.Header("Access-Control-Allow-Methods", allowMethods)
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Expose-Headers", exposeHeaders)

		if config.AllowCredentials && explicit {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if config.MaxAge > 0 {
			c.Header("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// matchOrigin reports whether origin is listed by name, and whether a "*" entry covers it
func matchOrigin(allowed []string, origin string) (explicit, wildcard bool) {
	for _, o := range allowed {
		switch {
		case strings.EqualFold(o, origin):
			return true, false
		case o == "*":
			wildcard = true
		}
	}
	return false, wildcard
}
