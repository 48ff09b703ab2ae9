package oidc

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Keys used to hold flow data in a SessionStore.
const (
	KeyState        = "oidc_state"
	KeyCodeVerifier = "oidc_code_verifier"
	KeyExpiresAt    = "oidc_expires_at"
	KeyAccessToken  = "oidc_access_token"
	KeyIdToken      = "oidc_id_token"
	KeyLogoutState  = "oidc_logout_state"
)

// SessionStore persists per-session values between the authorization
// redirect and the provider's callback. Values must survive across requests
// (persisted server side or in a tamper-evident client session) and sessions
// must be isolated from one another.
//
// Implementations must be concurrently safe, since the store will likely be
// used within a concurrent http.Handler.
type SessionStore interface {
	// Put sets key to value for the session. A subsequent Get in the same
	// session must observe it.
	Put(ctx context.Context, sessionID, key, value string) error

	// Get returns the value for key, and false when it is absent.
	Get(ctx context.Context, sessionID, key string) (string, bool, error)

	// Clear removes key from the session. Clearing an absent key is not an
	// error.
	Clear(ctx context.Context, sessionID, key string) error
}

// BatchStore is an optional SessionStore extension which writes several
// values at once. When a store implements it, the AuthSession's state and
// code_verifier are written atomically.
type BatchStore interface {
	PutAll(ctx context.Context, sessionID string, values map[string]string) error
}

// AuthSession is one in-flight login attempt. It is created when the
// authorization redirect is prepared and consumed by the callback.
type AuthSession struct {
	// SessionID is the caller's session identifier the attempt is keyed by.
	SessionID string

	// State binds the redirect to the callback.
	State string

	// CodeVerifier is only ever sent to the token endpoint.
	CodeVerifier string

	// ExpiresAt is when the attempt stops being accepted at callback.
	ExpiresAt time.Time
}

// IsExpired returns true if the attempt has expired relative to now.
func (s *AuthSession) IsExpired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

func (s *AuthSession) values() map[string]string {
	return map[string]string{
		KeyState:        s.State,
		KeyCodeVerifier: s.CodeVerifier,
		KeyExpiresAt:    strconv.FormatInt(s.ExpiresAt.UnixNano(), 10),
	}
}

// putAll writes values using BatchStore when available.
func putAll(ctx context.Context, store SessionStore, sessionID string, values map[string]string) error {
	const op = "putAll"
	if b, ok := store.(BatchStore); ok {
		if err := b.PutAll(ctx, sessionID, values); err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrSessionStore, err)
		}
		return nil
	}
	for k, v := range values {
		if err := store.Put(ctx, sessionID, k, v); err != nil {
			return fmt.Errorf("%s: unable to put %s: %w: %w", op, k, ErrSessionStore, err)
		}
	}
	return nil
}

func clearAll(ctx context.Context, store SessionStore, sessionID string, keys ...string) error {
	const op = "clearAll"
	for _, k := range keys {
		if err := store.Clear(ctx, sessionID, k); err != nil {
			return fmt.Errorf("%s: unable to clear %s: %w: %w", op, k, ErrSessionStore, err)
		}
	}
	return nil
}

// loadAuthSession reads the attempt's values. It returns ErrSessionNotFound
// if the state or code_verifier are missing.
func loadAuthSession(ctx context.Context, store SessionStore, sessionID string) (*AuthSession, error) {
	const op = "loadAuthSession"
	s := &AuthSession{SessionID: sessionID}
	var ok bool
	var err error
	if s.State, ok, err = store.Get(ctx, sessionID, KeyState); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSessionStore, err)
	} else if !ok || s.State == "" {
		return nil, fmt.Errorf("%s: state not found: %w", op, ErrSessionNotFound)
	}
	if s.CodeVerifier, ok, err = store.Get(ctx, sessionID, KeyCodeVerifier); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSessionStore, err)
	} else if !ok || s.CodeVerifier == "" {
		return nil, fmt.Errorf("%s: code_verifier not found: %w", op, ErrSessionNotFound)
	}
	exp, ok, err := store.Get(ctx, sessionID, KeyExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSessionStore, err)
	}
	if ok && exp != "" {
		nanos, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid expiry %q: %w", op, exp, ErrInvalidParameter)
		}
		s.ExpiresAt = time.Unix(0, nanos)
	}
	return s, nil
}
