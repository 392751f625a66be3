package session

import (
	"net/http"
	"time"
)

const (
	// DefaultCookieName is the session cookie name browsers see
	DefaultCookieName = "auth_token"
	// DefaultMaxAge is seven days in seconds
	DefaultMaxAge = 7 * 24 * 60 * 60
)

// CookieOptions defines how the session cookie is issued
type CookieOptions struct {
	Name   string
	MaxAge int
	Secure bool // on in production
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = DefaultCookieName
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

// SetCookie stores the token in an HttpOnly, SameSite=Lax cookie scoped to the whole origin.
func SetCookie(w http.ResponseWriter, token string, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   opts.MaxAge,
		Expires:  time.Now().Add(time.Duration(opts.MaxAge) * time.Second),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie emits two Set-Cookie headers: Max-Age=0 and an explicit expired deletion.
// Some clients only honor one of the two. The clear path uses SameSite=Strict while
// SetCookie uses Lax; both are kept as deployed.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
