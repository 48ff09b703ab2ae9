package oidc

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrInvalidIssuer     = errors.New("invalid issuer")
	ErrIdGeneratorFailed = errors.New("id generation failed")

	// configuration errors
	ErrInvalidConfig              = errors.New("invalid configuration")
	ErrMissingConfig              = errors.New("missing required configuration")
	ErrUnsupportedResponseType    = errors.New("unsupported response_type")
	ErrUnsupportedResponseMode    = errors.New("unsupported response_mode")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrMissingOpenIDScope         = errors.New("openid is required in scope list")
	ErrUnknownScope               = errors.New("unknown scope")
	ErrDiscoveryFailed            = errors.New("provider discovery failed")

	// callback rejections
	ErrCodeNotReturned  = errors.New("code not returned")
	ErrStateMismatch    = errors.New("states do not match")
	ErrSessionNotFound  = errors.New("auth session not found")
	ErrExpiredSession   = errors.New("auth session is expired")
	ErrLoginFailed      = errors.New("login failed")
	ErrNotAuthenticated = errors.New("session is not authenticated")

	// upstream protocol errors
	ErrTokenExchangeFailed       = errors.New("token exchange failed")
	ErrUnsupportedTokenType      = errors.New("unsupported token_type")
	ErrUserInfoFailed            = errors.New("user info failed")
	ErrIdTokenVerificationFailed = errors.New("id_token verification failed")

	// transport errors
	ErrTransport = errors.New("unable to reach provider")

	ErrSessionStore = errors.New("session store failure")
)

// Kind classifies an error into one of the handling categories a host
// application needs to distinguish.
type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindCallbackRejected
	KindUpstreamProtocol
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCallbackRejected:
		return "callback rejected"
	case KindUpstreamProtocol:
		return "upstream protocol"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindTransport, []error{ErrTransport}},
	{KindUpstreamProtocol, []error{ErrTokenExchangeFailed, ErrUnsupportedTokenType, ErrUserInfoFailed, ErrIdTokenVerificationFailed}},
	{KindCallbackRejected, []error{ErrCodeNotReturned, ErrStateMismatch, ErrSessionNotFound, ErrExpiredSession, ErrLoginFailed, ErrNotAuthenticated}},
	{KindConfiguration, []error{ErrInvalidConfig, ErrMissingConfig, ErrUnsupportedResponseType, ErrUnsupportedResponseMode, ErrUnsupportedChallengeMethod, ErrMissingOpenIDScope, ErrUnknownScope, ErrDiscoveryFailed, ErrInvalidCACert, ErrInvalidIssuer}},
}

// ErrorKind returns the Kind of err. Errors that don't wrap one of the
// package's classified sentinels are KindInternal.
func ErrorKind(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kinds {
		for _, e := range k.errs {
			if errors.Is(err, e) {
				return k.kind
			}
		}
	}
	return KindInternal
}

// UpstreamError is returned when the provider answers a token or userinfo
// request with a non-2xx status. It wraps either ErrTokenExchangeFailed or
// ErrUserInfoFailed.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
	Wrapped    error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s: provider responded with status %d", e.Op, e.StatusCode)
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Wrapped.Error())
	}
	return msg
}

// Unwrap returns the wrapped sentinel
func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Wrapped
}

// transportErr wraps a network failure reaching the provider so it can be
// matched with errors.Is(err, ErrTransport) while keeping the original cause.
func transportErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// isTransportErr reports whether err came from the http client rather than
// from a provider response.
func isTransportErr(err error) bool {
	var uErr *url.Error
	return errors.As(err, &uErr)
}
