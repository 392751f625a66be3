// Package session owns the session cookie and the unverified token checks done before
// a request reaches the backend.
//
// Nothing here verifies a signature. Decoded claims are used for display and for
// rejecting tokens that are obviously unusable (malformed or expired). Authorization
// decisions stay with the backend.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken        = errors.New("no session token")
	ErrMalformedToken = errors.New("malformed session token")
	ErrTokenExpired   = errors.New("session token expired")
)

// TokenFields lists the login response fields that may carry the token, highest priority first.
var TokenFields = []string{"jwt", "token", "accessToken", "access_token"}

// ExtractToken returns the first non-empty string found under TokenFields in a JSON object body.
func ExtractToken(body []byte) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", false
	}

	for _, name := range TokenFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var token string
		if err := json.Unmarshal(raw, &token); err == nil && token != "" {
			return token, true
		}
	}
	return "", false
}

// DecodeClaims splits token into three segments and decodes the payload without
// checking the signature. Expiry is not checked; see Validate.
func DecodeClaims(token string) (jwt.MapClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// Validate runs the structural and expiry check. A missing exp never expires.
func Validate(token string, now time.Time) (jwt.MapClaims, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	claims, err := DecodeClaims(token)
	if err != nil {
		return nil, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp != nil && exp.Before(now) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// User is the display projection of a session token
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserFromClaims builds the display user. Name falls back to the subject, then to fallbackName.
func UserFromClaims(claims jwt.MapClaims, fallbackName string) User {
	sub, _ := claims.GetSubject()
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)

	if name == "" {
		name = sub
	}
	if name == "" {
		name = fallbackName
	}

	return User{ID: sub, Name: name, Email: email}
}

// TokenSource records where ResolveToken found a token
type TokenSource string

const (
	SourceNone   TokenSource = ""
	SourceCookie TokenSource = "cookie"
	SourceHeader TokenSource = "header"
)

// ResolveToken reads the session cookie first and falls back to an Authorization: Bearer header.
func ResolveToken(r *http.Request, cookieName string) (string, TokenSource) {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, SourceCookie
	}

	if token, ok := BearerToken(r.Header.Get("Authorization")); ok {
		return token, SourceHeader
	}
	return "", SourceNone
}

// BearerToken parses an Authorization header value
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
