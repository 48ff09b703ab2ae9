package oidc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Supported authorization request parameter values.
const (
	ResponseTypeCode  = "code"
	ResponseModeQuery = "query"
)

// RedirectTarget is an outbound provider URL: a base URL plus query
// parameters.
type RedirectTarget struct {
	BaseURL string
	Query   url.Values
}

// URL returns BaseURL + "?" + the url-encoded query.
func (r *RedirectTarget) URL() string {
	if len(r.Query) == 0 {
		return r.BaseURL
	}
	sep := "?"
	if strings.Contains(r.BaseURL, "?") {
		sep = "&"
	}
	return r.BaseURL + sep + r.Query.Encode()
}

// PrepareAuthorizationRedirect starts a login attempt for sessionID. It
// generates a fresh state and code_verifier, stores both in the session
// (replacing any earlier attempt) and returns the redirect to the provider's
// authorization endpoint.
//
// Only response_type "code", response_mode "query" and challenge method
// "S256" are supported; anything else is a configuration error. The scope
// must contain "openid" and only reserved scopes.
//
// Supported options: WithScope, WithResponseType, WithResponseMode,
// WithChallengeMethod
func (p *Provider) PrepareAuthorizationRedirect(ctx context.Context, sessionID string, opt ...Option) (*AuthSession, *RedirectTarget, error) {
	const op = "Provider.PrepareAuthorizationRedirect"
	if sessionID == "" {
		return nil, nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getAuthRedirectOpts(opt...)
	if opts.withResponseType != ResponseTypeCode {
		return nil, nil, fmt.Errorf("%s: %q: only %q is supported: %w", op, opts.withResponseType, ResponseTypeCode, ErrUnsupportedResponseType)
	}
	if opts.withResponseMode != ResponseModeQuery {
		return nil, nil, fmt.Errorf("%s: %q: only %q is supported: %w", op, opts.withResponseMode, ResponseModeQuery, ErrUnsupportedResponseMode)
	}
	if opts.withChallengeMethod != S256 {
		return nil, nil, fmt.Errorf("%s: %q: only %q is supported: %w", op, opts.withChallengeMethod, S256, ErrUnsupportedChallengeMethod)
	}
	scope := opts.withScope
	if scope == "" {
		scope = p.config.Scope
	}
	scopes, err := ParseScope(scope)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	state, err := NewStateToken()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	s := &AuthSession{
		SessionID:    sessionID,
		State:        state,
		CodeVerifier: verifier.Verifier(),
		ExpiresAt:    p.now().Add(p.config.SessionTTL),
	}
	// both secrets are stored before the redirect is handed out
	if err := putAll(ctx, p.store, sessionID, s.values()); err != nil {
		return nil, nil, fmt.Errorf("%s: unable to store auth session: %w", op, err)
	}
	challenge, err := CreateCodeChallenge(opts.withChallengeMethod, verifier)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	target := &RedirectTarget{
		BaseURL: p.config.AuthorizationEndpoint,
		Query: url.Values{
			"client_id":             {p.config.ClientID},
			"redirect_uri":          {p.config.RedirectURL},
			"response_type":         {opts.withResponseType},
			"response_mode":         {opts.withResponseMode},
			"scope":                 {strings.Join(scopes, " ")},
			"state":                 {state},
			"code_challenge":        {challenge},
			"code_challenge_method": {string(opts.withChallengeMethod)},
		},
	}
	p.logger.Debug("authorization redirect issued", "session_id", sessionID, "scope", target.Query.Get("scope"))
	return s, target, nil
}

// PrepareLogoutRedirect builds the redirect to the provider's logout
// endpoint for an authenticated session. A fresh state is generated and
// stored so the post-logout return can be checked and the session's tokens
// are cleared. It returns ErrNotAuthenticated if the session holds no
// id_token.
//
// Supported options: WithPostLogoutRedirectURL
func (p *Provider) PrepareLogoutRedirect(ctx context.Context, sessionID string, opt ...Option) (*RedirectTarget, error) {
	const op = "Provider.PrepareLogoutRedirect"
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	if p.config.LogoutEndpoint == "" {
		return nil, fmt.Errorf("%s: logout endpoint is not configured: %w", op, ErrMissingConfig)
	}
	opts := getLogoutOpts(opt...)
	postLogout := opts.withPostLogoutRedirectURL
	if postLogout == "" {
		postLogout = p.config.PostLogoutRedirectURL
	}

	idToken, ok, err := p.store.Get(ctx, sessionID, KeyIdToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSessionStore, err)
	}
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: no id_token in session: %w", op, ErrNotAuthenticated)
	}
	state, err := NewStateToken()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := p.store.Put(ctx, sessionID, KeyLogoutState, state); err != nil {
		return nil, fmt.Errorf("%s: unable to store logout state: %w: %w", op, ErrSessionStore, err)
	}

	target := &RedirectTarget{
		BaseURL: p.config.LogoutEndpoint,
		Query: url.Values{
			"id_token_hint": {idToken},
			"state":         {state},
		},
	}
	if postLogout != "" {
		target.Query.Set("post_logout_redirect_uri", postLogout)
	}
	if err := p.ClearTokens(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.logger.Debug("logout redirect issued", "session_id", sessionID)
	return target, nil
}

// authRedirectOptions is the set of available options for
// PrepareAuthorizationRedirect
type authRedirectOptions struct {
	withScope           string
	withResponseType    string
	withResponseMode    string
	withChallengeMethod ChallengeMethod
}

func authRedirectDefaults() authRedirectOptions {
	return authRedirectOptions{
		withResponseType:    ResponseTypeCode,
		withResponseMode:    ResponseModeQuery,
		withChallengeMethod: S256,
	}
}

func getAuthRedirectOpts(opt ...Option) authRedirectOptions {
	opts := authRedirectDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithResponseType overrides the response_type requested. Only "code" is
// supported.
func WithResponseType(t string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authRedirectOptions); ok {
			o.withResponseType = t
		}
	}
}

// WithResponseMode overrides the response_mode requested. Only "query" is
// supported.
func WithResponseMode(m string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authRedirectOptions); ok {
			o.withResponseMode = m
		}
	}
}

// WithChallengeMethod overrides the PKCE challenge method. Only S256 is
// supported.
func WithChallengeMethod(m ChallengeMethod) Option {
	return func(o interface{}) {
		if o, ok := o.(*authRedirectOptions); ok {
			o.withChallengeMethod = m
		}
	}
}

// logoutOptions is the set of available options for PrepareLogoutRedirect
type logoutOptions struct {
	withPostLogoutRedirectURL string
}

func logoutDefaults() logoutOptions {
	return logoutOptions{}
}

func getLogoutOpts(opt ...Option) logoutOptions {
	opts := logoutDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
