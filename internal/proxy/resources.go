package proxy

import (
	"net/http"
	"strings"
)

// Resource describes one backend collection exposed under /api
type Resource struct {
	// Name keys fixtures and cache entries
	Name string
	// Routes are the local collection routes; each also gets a /:id route
	Routes []string
	// BackendPaths are tried in order while the backend answers 404.
	// Empty means the first route is forwarded as is.
	BackendPaths []string
	// PublicMethods may write without a session token
	PublicMethods []string
	// PrivateReads requires a token for GET
	PrivateReads bool
	// ValidateTokenOn runs the local structure and expiry check before forwarding
	ValidateTokenOn []string
	// Moderated forces approved=false on creation
	Moderated bool
	// Fallback allows fixture data for public list reads when the backend is down
	Fallback bool
}

// DefaultResources is the site's resource table
func DefaultResources() []Resource {
	return []Resource{
		{
			Name:            "courses",
			Routes:          []string{"/api/courses"},
			ValidateTokenOn: []string{http.MethodPost},
			Fallback:        true,
		},
		{
			Name:         "blog",
			Routes:       []string{"/api/blog", "/api/articles"},
			BackendPaths: []string{"/api/articles", "/api/blog", "/api/blogs"},
		},
		{
			Name:   "bios",
			Routes: []string{"/api/bios"},
		},
		{
			Name:          "testimonials",
			Routes:        []string{"/api/testimonials"},
			PublicMethods: []string{http.MethodPost},
			Moderated:     true,
			Fallback:      true,
		},
		{
			Name:   "library-items",
			Routes: []string{"/api/library-items"},
		},
		{
			Name:          "inquiries",
			Routes:        []string{"/api/inquiries"},
			PublicMethods: []string{http.MethodPost},
			PrivateReads:  true,
		},
	}
}

func (r Resource) backendPaths() []string {
	if len(r.BackendPaths) > 0 {
		return r.BackendPaths
	}
	if len(r.Routes) > 0 {
		return r.Routes[:1]
	}
	return []string{"/api/" + r.Name}
}

// requiresAuth reports whether method needs a session token
func (r Resource) requiresAuth(method string) bool {
	if isRead(method) {
		return r.PrivateReads
	}
	return !hasMethod(r.PublicMethods, method)
}

func (r Resource) validatesToken(method string) bool {
	return hasMethod(r.ValidateTokenOn, method)
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func hasMethod(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
