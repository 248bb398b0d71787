// Package auth owns the maintainer session: the host token and the user it
// belongs to. Other packages only read it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/OpenCoralTools/oct-registry/internal/observability"
)

// ErrInvalidToken is returned when the host rejects a token.
var ErrInvalidToken = errors.New("invalid token")

// User is the account a token belongs to.
type User struct {
	Login       string `json:"login"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Verifier resolves a token to its user.
type Verifier interface {
	Verify(ctx context.Context, token string) (User, error)
}

// State is a snapshot delivered to subscribers.
type State struct {
	Authenticated bool
	User          User
}

// Session is safe for concurrent use. The zero value is not usable; use
// NewSession.
type Session struct {
	mu       sync.RWMutex
	verifier Verifier
	token    string
	user     User
	subs     map[int]func(State)
	nextSub  int
	logger   observability.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l observability.Logger) Option {
	return func(s *Session) { s.logger = observability.LoggerOrNop(l) }
}

// NewSession constructs a signed-out session.
func NewSession(verifier Verifier, opts ...Option) *Session {
	s := &Session{verifier: verifier, subs: make(map[int]func(State)), logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentToken returns the session token, or "" when signed out.
func (s *Session) CurrentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// CurrentUser returns the signed-in user.
func (s *Session) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.token != ""
}

// Subscribe registers fn for session changes and returns a cancel function.
// fn is called synchronously after each change, outside the session lock.
func (s *Session) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Login verifies token with the host and, on success, makes it current. A
// rejected token signs the session out; any other verification failure
// leaves the session as it was.
func (s *Session) Login(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		s.Logout()
		return User{}, ErrInvalidToken
	}
	if s.verifier == nil {
		return User{}, fmt.Errorf("login: no verifier configured")
	}
	user, err := s.verifier.Verify(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		s.logger.Warn("token rejected", "error", err)
		s.Logout()
		return User{}, err
	}
	if err != nil {
		s.logger.Warn("token verification failed, session unchanged", "error", err)
		return User{}, err
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Login
	}
	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	s.logger.Info("signed in", "login", user.Login)
	s.notify()
	return user, nil
}

// Logout clears the token and user.
func (s *Session) Logout() {
	s.mu.Lock()
	changed := s.token != ""
	s.token = ""
	s.user = User{}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Session) notify() {
	s.mu.RLock()
	state := State{Authenticated: s.token != "", User: s.user}
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(state)
	}
}
