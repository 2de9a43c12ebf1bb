// Package session holds the signed-in advisor. It is passed explicitly to the
// components that need to know who is syncing.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

// State is a snapshot of the session. ID changes on every sign-in and stays
// the same across token refreshes.
type State struct {
	ID            string       `json:"id,omitempty"`
	Authenticated bool         `json:"authenticated"`
	Owner         models.Owner `json:"owner"`
	ExpiresAt     time.Time    `json:"expiresAt,omitempty"`
	Token         string       `json:"-"`
}

// claims read from the bearer token. The signature is checked by the backend.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Session is safe for concurrent use
type Session struct {
	mu          sync.RWMutex
	state       State
	subscribers map[int]func(State)
	nextID      int
	now         func() time.Time
	logger      *slog.Logger
}

// New returns a signed-out session
func New(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		subscribers: make(map[int]func(State)),
		now:         time.Now,
		logger:      logger.With(slog.String("component", "session")),
	}
}

// Current returns the session snapshot, with Authenticated false once the
// token has expired
func (s *Session) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Authenticated = s.authenticatedLocked()
	return st
}

// Authenticated reports whether a user is signed in with an unexpired token
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticatedLocked()
}

func (s *Session) authenticatedLocked() bool {
	if !s.state.Authenticated {
		return false
	}
	return s.state.ExpiresAt.IsZero() || s.now().Before(s.state.ExpiresAt)
}

// Owner returns the attribution of the signed-in advisor
func (s *Session) Owner() models.Owner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Owner
}

// Token returns the bearer token of the current session
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authenticatedLocked() {
		return "", apperrors.New(apperrors.ErrInvalid, "not signed in")
	}
	return s.state.Token, nil
}

// SignIn starts a new session
func (s *Session) SignIn(owner models.Owner, token string, expiresAt time.Time) State {
	st := State{
		ID:            uuid.NewString(),
		Authenticated: true,
		Owner:         owner,
		ExpiresAt:     expiresAt,
		Token:         token,
	}
	s.replace(st)
	s.logger.Info("Signed in",
		slog.String("session_id", st.ID),
		slog.String("owner", owner.Email),
	)
	return st
}

// SignInWithToken starts a session from a bearer JWT, reading sub, email and
// exp without verifying the signature
func (s *Session) SignInWithToken(token string) (State, error) {
	c, err := parseToken(token)
	if err != nil {
		return State{}, err
	}
	var expiresAt time.Time
	if c.ExpiresAt != nil {
		expiresAt = c.ExpiresAt.Time
		if !s.now().Before(expiresAt) {
			return State{}, apperrors.New(apperrors.ErrInvalid, "access token has expired")
		}
	}
	return s.SignIn(models.Owner{ID: c.Subject, Email: c.Email}, token, expiresAt), nil
}

// Refresh swaps the token of the current session, keeping its ID
func (s *Session) Refresh(token string, expiresAt time.Time) error {
	s.mu.Lock()
	if !s.state.Authenticated {
		s.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalid, "no session to refresh")
	}
	s.state.Token = token
	s.state.ExpiresAt = expiresAt
	st, fns := s.state, s.subscribersLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
	s.logger.Debug("Token refreshed", slog.String("session_id", st.ID))
	return nil
}

// RefreshWithToken refreshes from a new bearer JWT of the same subject
func (s *Session) RefreshWithToken(token string) error {
	c, err := parseToken(token)
	if err != nil {
		return err
	}
	if owner := s.Owner(); owner.ID != "" && owner.ID != c.Subject {
		return apperrors.Newf(apperrors.ErrInvalid, "token subject %s does not match the session", c.Subject)
	}
	var expiresAt time.Time
	if c.ExpiresAt != nil {
		expiresAt = c.ExpiresAt.Time
	}
	return s.Refresh(token, expiresAt)
}

// SignOut ends the session
func (s *Session) SignOut() {
	s.replace(State{})
	s.logger.Info("Signed out")
}

// Subscribe calls fn synchronously with every new state. The returned
// function removes the subscription.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Session) replace(st State) {
	s.mu.Lock()
	s.state = st
	fns := s.subscribersLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (s *Session) subscribersLocked() []func(State) {
	fns := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	return fns
}

func parseToken(token string) (*claims, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "parse access token", err)
	}
	if c.Subject == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "access token has no subject")
	}
	return &c, nil
}
