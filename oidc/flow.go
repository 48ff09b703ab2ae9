package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// FlowState is a step of the callback state machine:
//
//	RedirectIssued -> CallbackReceived -> Validated -> Exchanged -> Authenticated
//	                                  \-> Rejected (from any step after CallbackReceived)
type FlowState int

const (
	// FlowNone is a session with no login in flight and no tokens.
	FlowNone FlowState = iota
	FlowRedirectIssued
	FlowCallbackReceived
	FlowValidated
	FlowExchanged
	FlowAuthenticated
	FlowRejected
)

func (s FlowState) String() string {
	switch s {
	case FlowNone:
		return "none"
	case FlowRedirectIssued:
		return "redirect_issued"
	case FlowCallbackReceived:
		return "callback_received"
	case FlowValidated:
		return "validated"
	case FlowExchanged:
		return "exchanged"
	case FlowAuthenticated:
		return "authenticated"
	case FlowRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s FlowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CallbackParams are the query parameters the provider sends to the
// redirect URI.
type CallbackParams struct {
	Code  string
	State string

	// Error, ErrorDescription and ErrorURI are set when the provider
	// reports an authentication error instead of a code.
	Error            string
	ErrorDescription string
	ErrorURI         string
}

// CallbackParamsFromQuery reads CallbackParams from a callback's query.
func CallbackParamsFromQuery(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		ErrorURI:         q.Get("error_uri"),
	}
}

// CallbackResult reports how far a callback progressed. Token is set from
// FlowExchanged on and UserInfo once FlowAuthenticated is reached.
// SessionID is the session holding the tokens once authenticated; it differs
// from the callback's session when WithSessionRotation is used.
type CallbackResult struct {
	State     FlowState
	SessionID string
	Token     *TokenExchangeResult
	UserInfo  UserInfo
}

// flowSecrets are single-use and cleared once the callback reaches a
// terminal state.
var flowSecrets = []string{KeyState, KeyCodeVerifier, KeyExpiresAt}

// ValidateCallback checks the callback parameters against the AuthSession
// stored for sessionID and returns it when the callback may proceed to the
// exchange. On rejection the session's flow secrets are cleared.
//
// Rejections: a provider error (ErrLoginFailed), a missing code
// (ErrCodeNotReturned), a missing or expired attempt (ErrSessionNotFound,
// ErrExpiredSession) and a missing or different state (ErrStateMismatch).
func (p *Provider) ValidateCallback(ctx context.Context, sessionID string, params CallbackParams) (*AuthSession, error) {
	const op = "Provider.ValidateCallback"
	s, err := p.validateCallback(ctx, sessionID, params)
	if err != nil {
		p.logger.Warn("callback rejected", "session_id", sessionID, "error", err)
		if sessionID == "" {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if cErr := clearAll(ctx, p.store, sessionID, flowSecrets...); cErr != nil {
			p.logger.Error("unable to clear rejected auth session", "session_id", sessionID, "error", cErr)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (p *Provider) validateCallback(ctx context.Context, sessionID string, params CallbackParams) (*AuthSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty: %w", ErrInvalidParameter)
	}
	if params.Error != "" {
		msg := params.Error
		if params.ErrorDescription != "" {
			msg = fmt.Sprintf("%s: %s", msg, params.ErrorDescription)
		}
		return nil, fmt.Errorf("provider returned %s: %w", msg, ErrLoginFailed)
	}
	if params.Code == "" {
		return nil, ErrCodeNotReturned
	}
	s, err := loadAuthSession(ctx, p.store, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil, fmt.Errorf("%w: %w", ErrStateMismatch, err)
	case err != nil:
		return nil, err
	}
	if s.IsExpired(p.now()) {
		return nil, ErrExpiredSession
	}
	if params.State == "" || subtle.ConstantTimeCompare([]byte(params.State), []byte(s.State)) != 1 {
		return nil, ErrStateMismatch
	}
	return s, nil
}

// Callback drives a received callback to a terminal state. It validates
// the parameters, exchanges the code using the stored code_verifier and
// fetches the userinfo claims. Only then are the tokens stored in the
// session, so a rejected callback never leaves the session authenticated.
//
// The flow secrets are cleared when the callback is rejected and once the
// code has been exchanged. The returned result is never nil; its State is
// FlowAuthenticated on success and FlowRejected otherwise.
//
// Supported options: WithSessionRotation
func (p *Provider) Callback(ctx context.Context, sessionID string, params CallbackParams, opt ...Option) (*CallbackResult, error) {
	const op = "Provider.Callback"
	opts := getCallbackOpts(opt...)
	result := &CallbackResult{State: FlowCallbackReceived, SessionID: sessionID}
	p.logger.Debug("callback received", "session_id", sessionID)

	reject := func(err error) (*CallbackResult, error) {
		result.State = FlowRejected
		return result, fmt.Errorf("%s: %w", op, err)
	}

	s, err := p.ValidateCallback(ctx, sessionID, params)
	if err != nil {
		return reject(err)
	}
	result.State = FlowValidated
	p.logger.Debug("callback validated", "session_id", sessionID)

	tk, err := p.exchange(ctx, s, params.Code)
	// the code_verifier has been spent either way
	if cErr := clearAll(ctx, p.store, sessionID, flowSecrets...); cErr != nil {
		p.logger.Error("unable to clear consumed auth session", "session_id", sessionID, "error", cErr)
	}
	if err != nil {
		return reject(err)
	}
	result.Token = tk
	result.State = FlowExchanged
	p.logger.Debug("authorization code exchanged", "session_id", sessionID)

	info, err := p.UserInfo(ctx, tk.AccessToken)
	if err != nil {
		p.logger.Warn("userinfo failed after exchange", "session_id", sessionID, "error", err)
		return reject(err)
	}

	tokenSession := sessionID
	if opts.withSessionRotation != nil {
		if tokenSession, err = opts.withSessionRotation(); err != nil {
			return reject(fmt.Errorf("unable to rotate session: %w", err))
		}
		if tokenSession == "" {
			return reject(fmt.Errorf("rotated session id is empty: %w", ErrInvalidParameter))
		}
	}
	if err := p.storeTokens(ctx, tokenSession, tk); err != nil {
		return reject(err)
	}
	if tokenSession != sessionID {
		// tokens of an earlier login must not stay reachable by the old id
		if cErr := p.ClearTokens(ctx, sessionID); cErr != nil {
			p.logger.Error("unable to clear tokens of rotated session", "session_id", sessionID, "error", cErr)
		}
		p.logger.Debug("session rotated", "session_id", sessionID, "new_session_id", tokenSession)
	}
	result.SessionID = tokenSession
	result.UserInfo = info
	result.State = FlowAuthenticated
	p.logger.Info("session authenticated", "session_id", tokenSession, "sub", info.Subject())
	return result, nil
}

// exchange converts the code to tokens and verifies the id_token when an
// Issuer is configured.
func (p *Provider) exchange(ctx context.Context, s *AuthSession, code string) (*TokenExchangeResult, error) {
	tk, err := p.client.ExchangeCode(ctx, ExchangeRequest{
		Code:          code,
		CodeVerifier:  s.CodeVerifier,
		RedirectURL:   p.config.RedirectURL,
		ClientID:      p.config.ClientID,
		ClientSecret:  p.config.ClientSecret,
		TokenEndpoint: p.config.TokenEndpoint,
	})
	if err != nil {
		return nil, err
	}
	if tk.IdToken != "" {
		if err := p.VerifyIdToken(ctx, tk.IdToken); err != nil {
			return nil, err
		}
	}
	return tk, nil
}

func (p *Provider) storeTokens(ctx context.Context, sessionID string, tk *TokenExchangeResult) error {
	values := map[string]string{KeyAccessToken: string(tk.AccessToken)}
	if tk.IdToken != "" {
		values[KeyIdToken] = string(tk.IdToken)
	}
	if err := putAll(ctx, p.store, sessionID, values); err != nil {
		return fmt.Errorf("unable to store tokens: %w", err)
	}
	return nil
}

// ClearTokens removes the access and id tokens from the session, leaving it
// unauthenticated. Hosts call it when they refuse a user after Callback
// succeeded.
func (p *Provider) ClearTokens(ctx context.Context, sessionID string) error {
	const op = "Provider.ClearTokens"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	if err := clearAll(ctx, p.store, sessionID, KeyAccessToken, KeyIdToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// callbackOptions is the set of available options for Callback
type callbackOptions struct {
	withSessionRotation func() (string, error)
}

func callbackDefaults() callbackOptions {
	return callbackOptions{}
}

func getCallbackOpts(opt ...Option) callbackOptions {
	opts := callbackDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSessionRotation makes Callback store the tokens under a fresh session
// id returned by next instead of the callback's session. next is only called
// once the callback has been authenticated, and the tokens of the old
// session are cleared.
func WithSessionRotation(next func() (string, error)) Option {
	return func(o interface{}) {
		if o, ok := o.(*callbackOptions); ok {
			o.withSessionRotation = next
		}
	}
}

// CompleteLogout checks the state the provider returned to the post-logout
// redirect against the one stored by PrepareLogoutRedirect and clears it.
func (p *Provider) CompleteLogout(ctx context.Context, sessionID, state string) error {
	const op = "Provider.CompleteLogout"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	stored, ok, err := p.store.Get(ctx, sessionID, KeyLogoutState)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrSessionStore, err)
	}
	if cErr := clearAll(ctx, p.store, sessionID, KeyLogoutState); cErr != nil {
		p.logger.Error("unable to clear logout state", "session_id", sessionID, "error", cErr)
	}
	if !ok || stored == "" {
		return fmt.Errorf("%s: logout state not found: %w: %w", op, ErrStateMismatch, ErrSessionNotFound)
	}
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(stored)) != 1 {
		return fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}
	p.logger.Debug("logout completed", "session_id", sessionID)
	return nil
}

// SessionView is a non-secret description of what a session holds.
type SessionView struct {
	SessionID      string    `json:"session_id"`
	Authenticated  bool      `json:"authenticated"`
	PendingLogin   bool      `json:"pending_login"`
	PendingLogout  bool      `json:"pending_logout"`
	HasIdToken     bool      `json:"has_id_token"`
	LoginExpired   bool      `json:"login_expired"`
	LoginExpiresAt string    `json:"login_expires_at,omitempty"`
	FlowState      FlowState `json:"flow_state"`
}

// Introspect describes the session without revealing any secret.
func (p *Provider) Introspect(ctx context.Context, sessionID string) (*SessionView, error) {
	const op = "Provider.Introspect"
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	has := func(key string) (bool, error) {
		v, ok, err := p.store.Get(ctx, sessionID, key)
		if err != nil {
			return false, fmt.Errorf("%s: %w: %w", op, ErrSessionStore, err)
		}
		return ok && v != "", nil
	}
	v := &SessionView{SessionID: sessionID}
	var err error
	if v.Authenticated, err = has(KeyAccessToken); err != nil {
		return nil, err
	}
	if v.HasIdToken, err = has(KeyIdToken); err != nil {
		return nil, err
	}
	if v.PendingLogout, err = has(KeyLogoutState); err != nil {
		return nil, err
	}
	s, err := loadAuthSession(ctx, p.store, sessionID)
	switch {
	case err == nil:
		v.PendingLogin = true
		v.LoginExpired = s.IsExpired(p.now())
		if !s.ExpiresAt.IsZero() {
			v.LoginExpiresAt = s.ExpiresAt.UTC().Format(time.RFC3339)
		}
	case !errors.Is(err, ErrSessionNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case v.PendingLogin:
		v.FlowState = FlowRedirectIssued
	case v.Authenticated:
		v.FlowState = FlowAuthenticated
	default:
		v.FlowState = FlowNone
	}
	return v, nil
}
