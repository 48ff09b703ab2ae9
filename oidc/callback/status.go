package callback

import (
	"errors"
	"net/http"

	"github.com/hashicorp/oktaauth/oidc"
)

// StatusCode maps an error returned by the flow to the http status the
// Handler responds with:
//
//	missing code, unsupported token_type, id_token rejected  403
//	provider error response, no authenticated session         401
//	state mismatch, expired or absent auth session            400
//	provider non-2xx response                                 the provider's status
//	provider unreachable or other protocol violation          502
//	configuration and internal errors                         500
func StatusCode(err error) int {
	var uErr *oidc.UpstreamError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, oidc.ErrCodeNotReturned),
		errors.Is(err, oidc.ErrUnsupportedTokenType),
		errors.Is(err, oidc.ErrIdTokenVerificationFailed):
		return http.StatusForbidden
	case errors.Is(err, oidc.ErrLoginFailed),
		errors.Is(err, oidc.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, oidc.ErrStateMismatch),
		errors.Is(err, oidc.ErrExpiredSession),
		errors.Is(err, oidc.ErrSessionNotFound):
		return http.StatusBadRequest
	case errors.As(err, &uErr):
		if uErr.StatusCode >= 400 && uErr.StatusCode <= 599 {
			return uErr.StatusCode
		}
		return http.StatusBadGateway
	case oidc.ErrorKind(err) == oidc.KindTransport,
		oidc.ErrorKind(err) == oidc.KindUpstreamProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// rejections are reported to the client by their message.
var rejections = []error{
	oidc.ErrCodeNotReturned,
	oidc.ErrStateMismatch,
	oidc.ErrExpiredSession,
	oidc.ErrSessionNotFound,
	oidc.ErrLoginFailed,
	oidc.ErrNotAuthenticated,
}

func rejectionReason(err error) string {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return ""
}

// errorCode returns the oauth error code used in JSON error responses.
func errorCode(err error) string {
	switch oidc.ErrorKind(err) {
	case oidc.KindCallbackRejected:
		if errors.Is(err, oidc.ErrLoginFailed) || errors.Is(err, oidc.ErrNotAuthenticated) {
			return "access_denied"
		}
		return "invalid_request"
	case oidc.KindUpstreamProtocol, oidc.KindTransport:
		return "temporarily_unavailable"
	default:
		return "server_error"
	}
}
