package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prohmpiriya/tutor-site/internal/session"
	"go.uber.org/zap"
)

// UserStorageKey is where the non-authoritative user copy is kept
const UserStorageKey = "auth_user"

// ErrLoginFailed is returned by LoginErr when the proxy rejects the login or
// answers without a token
var ErrLoginFailed = errors.New("login failed")

// State is the session context's authentication state
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// User is the display projection of the session token
type User = session.User

// Session mirrors the server-side cookie into an in-memory user.
// Concurrent calls are not sequenced; the last state update wins.
type Session struct {
	client *Client

	mu    sync.RWMutex
	state State
	user  *User
	token string
	now   func() time.Time
}

// NewSession creates a session context in StateUnknown
func NewSession(c *Client) *Session {
	return &Session{
		client: c,
		state:  StateUnknown,
		now:    time.Now,
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// User returns a copy of the current user, or nil
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Token returns the token last seen from login or verify
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// GetAuthToken returns the token while the session is authenticated and the token
// still passes the structural and expiry check.
func (s *Session) GetAuthToken() (string, bool) {
	s.mu.RLock()
	state, token := s.state, s.token
	s.mu.RUnlock()

	if state != StateAuthenticated || token == "" {
		return "", false
	}
	if _, err := session.Validate(token, s.now()); err != nil {
		return "", false
	}
	return token, true
}

// Hydrate restores the session after startup. Without a cached user the session is
// unauthenticated; otherwise Verify decides and a failure drops the cached user.
func (s *Session) Hydrate(ctx context.Context) State {
	var cached User
	found, err := s.client.storage.Get(UserStorageKey, &cached)
	if err != nil {
		s.client.log.Warn("Discarding unreadable cached user", zap.Error(err))
	}
	if !found || err != nil {
		s.setUnauthenticated()
		return StateUnauthenticated
	}

	s.mu.Lock()
	s.state = StateChecking
	s.mu.Unlock()

	verified, err := s.verify(ctx)
	if err != nil {
		s.client.log.Info("Session verification failed", zap.Error(err))
		s.clearCachedUser()
		s.setUnauthenticated()
		return StateUnauthenticated
	}

	user := verified.User
	s.mu.Lock()
	s.state = StateAuthenticated
	s.user = &user
	s.token = verified.Token
	s.mu.Unlock()

	if err := s.client.storage.Set(UserStorageKey, user); err != nil {
		s.client.log.Warn("Failed to cache user", zap.Error(err))
	}
	return StateAuthenticated
}

type verifyResponse struct {
	JWT           string `json:"jwt"`
	Token         string `json:"token"`
	Authenticated bool   `json:"authenticated"`
	User          User   `json:"user"`
}

func (s *Session) verify(ctx context.Context) (*verifyResponse, error) {
	body, err := s.client.do(ctx, http.MethodGet, "/api/auth/verify", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if !resp.Authenticated {
		return nil, errors.New("verify did not report an authenticated session")
	}
	if resp.Token == "" {
		resp.Token = resp.JWT
	}
	return &resp, nil
}

// Login calls the login proxy. On failure the state is left unchanged.
func (s *Session) Login(ctx context.Context, username, password string) bool {
	return s.LoginErr(ctx, username, password) == nil
}

// LoginErr is Login with the failure reason
func (s *Session) LoginErr(ctx context.Context, username, password string) error {
	body, err := s.client.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if err != nil {
		return errors.Join(ErrLoginFailed, err)
	}

	token, ok := session.ExtractToken(body)
	if !ok {
		return errors.Join(ErrLoginFailed, errors.New("response carried no token"))
	}

	user := User{ID: username, Name: username}
	if claims, err := session.DecodeClaims(token); err != nil {
		s.client.log.Debug("Token payload not decodable, using username", zap.Error(err))
	} else {
		user = session.UserFromClaims(claims, username)
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.user = &user
	s.token = token
	s.mu.Unlock()

	if err := s.client.storage.Set(UserStorageKey, user); err != nil {
		s.client.log.Warn("Failed to cache user", zap.Error(err))
	}
	return nil
}

// Logout calls the logout proxy and clears local state whatever the outcome.
// The returned error only reports the proxy call.
func (s *Session) Logout(ctx context.Context) error {
	_, err := s.client.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	s.clearCachedUser()
	s.setUnauthenticated()
	return err
}

func (s *Session) setUnauthenticated() {
	s.mu.Lock()
	s.state = StateUnauthenticated
	s.user = nil
	s.token = ""
	s.mu.Unlock()
}

func (s *Session) clearCachedUser() {
	if err := s.client.storage.Delete(UserStorageKey); err != nil {
		s.client.log.Warn("Failed to clear cached user", zap.Error(err))
	}
}
