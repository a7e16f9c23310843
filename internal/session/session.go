// Package session holds the admin's authentication state between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/erazemk/passdesk/internal/auth"
	"github.com/erazemk/passdesk/internal/model"
)

// Storage keys.
const (
	TokenKey = "admin_auth_token"
	UserKey  = "adminUser"
)

// Session is the current admin session. It is safe for concurrent use.
type Session struct {
	store Store
	now   func() time.Time

	mu    sync.RWMutex
	token string
	user  *model.User
}

// New returns an empty session persisted to store.
func New(store Store) *Session {
	return &Session{store: store, now: time.Now}
}

// Load restores a persisted session. A token whose exp has passed, or that
// cannot be parsed, is cleared without contacting the server.
func (s *Session) Load() error {
	token, ok, err := s.store.Get(TokenKey)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if !ok || token == "" {
		return nil
	}

	exp, err := auth.PeekExpiry(token)
	switch {
	case errors.Is(err, auth.ErrNoExpiry):
	case err != nil:
		slog.Debug("discarding unreadable session token", "error", err)
		return s.Clear()
	case !s.now().Before(exp):
		slog.Debug("discarding expired session token", "expired_at", exp)
		return s.Clear()
	}

	var user *model.User
	if raw, ok, err := s.store.Get(UserKey); err == nil && ok && raw != "" {
		var u model.User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			user = &u
		}
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	return nil
}

// Set stores a freshly issued token and the user it belongs to.
func (s *Session) Set(token string, user *model.User) error {
	if user != nil {
		raw, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("encoding session user: %w", err)
		}
		if err := s.store.Set(UserKey, string(raw)); err != nil {
			return fmt.Errorf("saving session user: %w", err)
		}
	}
	if err := s.store.Set(TokenKey, token); err != nil {
		return fmt.Errorf("saving session token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	return nil
}

// SetUser replaces the cached user while keeping the token.
func (s *Session) SetUser(user *model.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding session user: %w", err)
	}
	if err := s.store.Set(UserKey, string(raw)); err != nil {
		return fmt.Errorf("saving session user: %w", err)
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return nil
}

// Clear forgets the token and user in memory and on disk. The in-memory
// state is cleared even if the store fails.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if err := s.store.Delete(TokenKey, UserKey); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Token returns the bearer token, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the cached user, which may be nil even with a token.
func (s *Session) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Authenticated reports whether a token is held.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}
