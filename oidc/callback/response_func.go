package callback

import (
	"encoding/json"
	"net/http"

	"github.com/hashicorp/oktaauth/oidc"
)

// SuccessResponseFunc is used by the Handler to create a http response when
// the callback is successful.
//
// The result holds the exchanged tokens and the userinfo claims, which have
// already been handed to the Handler's UserinfoConsumer. The function should
// use the http.ResponseWriter to send back whatever content (headers, html,
// JSON, etc) it wishes to the client that originated the flow.
type SuccessResponseFunc func(sessionID string, result *oidc.CallbackResult, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by the Handler to create a http response when
// the callback fails.
//
// respErr is set when the provider returned an authentication error
// response. e is the error raised while processing the request; see
// StatusCode for the status it maps to.
type ErrorResponseFunc func(sessionID string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}

// RedirectSuccess returns a SuccessResponseFunc which redirects to location.
func RedirectSuccess(location string) SuccessResponseFunc {
	return func(_ string, _ *oidc.CallbackResult, w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, location, http.StatusFound)
	}
}

// JSONError is an ErrorResponseFunc which writes the error as an oauth
// error response with the status from StatusCode. The error detail is only
// included for callback rejections, never for internal errors.
func JSONError(_ string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, _ *http.Request) {
	status := StatusCode(e)
	body := respErr
	if body == nil {
		body = &AuthenErrorResponse{Error: errorCode(e)}
		if oidc.ErrorKind(e) == oidc.KindCallbackRejected {
			body.Description = rejectionReason(e)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
