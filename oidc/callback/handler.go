package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oktaauth/oidc"
)

// Routes served by a Handler, below the configured URL prefix. The callback
// route is the configured CallbackPath.
const (
	RouteLogin        = "/login"
	RouteLogout       = "/logout"
	RoutePostLogout   = "/post-logout"
	RouteTestCallback = "/test-callback"
	RouteUserInfo     = "/userinfo"
	RouteIntrospect   = "/introspect"
)

// testCallbackCode is the code placed in the preview page's test callback
// link. It is never sent to the provider.
const testCallbackCode = "test-callback-code"

// BeforeLogoutFunc is called before the logout redirect is built. A returned
// error aborts the logout.
type BeforeLogoutFunc func(ctx context.Context, sessionID string) error

// AfterLogoutFunc responds once the provider has returned from logout.
type AfterLogoutFunc func(sessionID string, w http.ResponseWriter, req *http.Request)

// Handler is the http.Handler for the flow's routes. It is safe for
// concurrent use.
type Handler struct {
	provider     *oidc.Provider
	sessions     SessionIdentifier
	consumer     UserinfoConsumer
	success      SuccessResponseFunc
	failure      ErrorResponseFunc
	beforeLogout BeforeLogoutFunc
	afterLogout  AfterLogoutFunc
	logger       hclog.Logger
	prefix       string
	mux          *http.ServeMux
}

// NewHandler creates a Handler for p. The UserinfoConsumer is either given
// with WithConsumer or looked up in the WithRegistry registry by the
// config's AfterAuthenticationHandler name; an unregistered name is a
// configuration error.
//
// Supported options: WithSessionIdentifier, WithConsumer, WithRegistry,
// WithSuccessResponse, WithErrorResponse, WithBeforeLogout, WithAfterLogout,
// WithLogger
func NewHandler(p *oidc.Provider, opt ...oidc.Option) (*Handler, error) {
	const op = "callback.NewHandler"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getHandlerOpts(opt...)
	c := p.Config()

	consumer := opts.withConsumer
	if consumer == nil && c.AfterAuthenticationHandler != "" {
		if opts.withRegistry == nil {
			return nil, fmt.Errorf("%s: %q configured without a registry: %w: %w", op, c.AfterAuthenticationHandler, ErrUnknownConsumer, oidc.ErrInvalidConfig)
		}
		var err error
		if consumer, err = opts.withRegistry.Lookup(c.AfterAuthenticationHandler); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	h := &Handler{
		provider:     p,
		sessions:     opts.withSessionIdentifier,
		consumer:     consumer,
		success:      opts.withSuccess,
		failure:      opts.withFailure,
		beforeLogout: opts.withBeforeLogout,
		afterLogout:  opts.withAfterLogout,
		logger:       opts.withLogger,
		prefix:       strings.TrimSuffix(c.URLPrefix, "/"),
		mux:          http.NewServeMux(),
	}
	if h.sessions == nil {
		h.sessions = &CookieSessions{Path: "/"}
	}

	h.handle(RouteLogin, h.login)
	h.handle(c.CallbackPath, h.callback)
	h.handle(RouteLogout, h.logout)
	h.handle(RoutePostLogout, h.postLogout)
	if c.Debug {
		h.handle(RouteTestCallback, h.testCallback)
		h.handle(RouteUserInfo, h.userInfo)
		h.handle(RouteIntrospect, h.introspect)
	}
	return h, nil
}

func (h *Handler) handle(route string, fn http.HandlerFunc) {
	h.mux.HandleFunc(http.MethodGet+" "+h.Path(route), fn)
}

// Path returns the full path of a route.
func (h *Handler) Path(route string) string {
	return h.prefix + route
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.mux.ServeHTTP(w, req)
}

func (h *Handler) sessionID(w http.ResponseWriter, req *http.Request) (string, bool) {
	sid, err := h.sessions.SessionID(w, req)
	if err != nil {
		h.logger.Error("unable to identify session", "error", err)
		h.failure("", nil, err, w, req)
		return "", false
	}
	return sid, true
}

func (h *Handler) login(w http.ResponseWriter, req *http.Request) {
	sid, ok := h.sessionID(w, req)
	if !ok {
		return
	}
	_, target, err := h.provider.PrepareAuthorizationRedirect(req.Context(), sid)
	if err != nil {
		h.logger.Error("unable to prepare authorization redirect", "session_id", sid, "error", err)
		h.failure(sid, nil, err, w, req)
		return
	}
	if !h.provider.Config().Debug {
		http.Redirect(w, req, target.URL(), http.StatusFound)
		return
	}

	testCallback := url.Values{
		"code":  {testCallbackCode},
		"state": {target.Query.Get("state")},
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := renderPreview(w, target.BaseURL, target.URL(), h.Path(RouteTestCallback)+"?"+testCallback.Encode(), target.Query); err != nil {
		h.logger.Error("unable to render preview page", "error", err)
	}
}

func (h *Handler) callback(w http.ResponseWriter, req *http.Request) {
	sid, ok := h.sessionID(w, req)
	if !ok {
		return
	}
	params := oidc.CallbackParamsFromQuery(req.URL.Query())
	rotate := oidc.WithSessionRotation(func() (string, error) {
		return h.sessions.Rotate(w, req)
	})
	result, err := h.provider.Callback(req.Context(), sid, params, rotate)
	if err != nil {
		var respErr *AuthenErrorResponse
		if params.Error != "" {
			respErr = &AuthenErrorResponse{
				Error:       params.Error,
				Description: params.ErrorDescription,
				Uri:         params.ErrorURI,
			}
		}
		h.failure(sid, respErr, err, w, req)
		return
	}
	sid = result.SessionID
	if h.consumer != nil {
		if err := h.consumer.ConsumeUserinfo(req.Context(), sid, result.UserInfo); err != nil {
			h.logger.Error("userinfo consumer failed", "session_id", sid, "error", err)
			// the host refused the user; the session must not stay logged in
			if cErr := h.provider.ClearTokens(req.Context(), sid); cErr != nil {
				h.logger.Error("unable to clear refused session", "session_id", sid, "error", cErr)
				err = fmt.Errorf("%w: %w", err, cErr)
			}
			h.failure(sid, nil, err, w, req)
			return
		}
	}
	h.success(sid, result, w, req)
}

func (h *Handler) logout(w http.ResponseWriter, req *http.Request) {
	sid, ok := h.sessionID(w, req)
	if !ok {
		return
	}
	if h.beforeLogout != nil {
		if err := h.beforeLogout(req.Context(), sid); err != nil {
			h.logger.Error("before logout hook failed", "session_id", sid, "error", err)
			h.failure(sid, nil, err, w, req)
			return
		}
	}
	target, err := h.provider.PrepareLogoutRedirect(req.Context(), sid, oidc.WithPostLogoutRedirectURL(h.postLogoutURL()))
	switch {
	case errors.Is(err, oidc.ErrNotAuthenticated):
		// nothing to end at the provider
		h.afterLogout(sid, w, req)
		return
	case err != nil:
		h.logger.Error("unable to prepare logout redirect", "session_id", sid, "error", err)
		h.failure(sid, nil, err, w, req)
		return
	}
	http.Redirect(w, req, target.URL(), http.StatusFound)
}

// postLogoutURL is the configured post logout redirect. Without one, the
// handler's own post-logout route is used on the scheme and host of the
// configured RedirectURL, which is the public address registered with the
// provider. The request's Host and TLS state are never used: behind a TLS
// terminating proxy they describe the proxy hop, not the public URL.
func (h *Handler) postLogoutURL() string {
	c := h.provider.Config()
	if c.PostLogoutRedirectURL != "" {
		return c.PostLogoutRedirectURL
	}
	u, err := url.Parse(c.RedirectURL)
	if err != nil || u.Host == "" {
		h.logger.Warn("no post logout redirect: set POST_LOGOUT_REDIRECT_URI", "redirect_uri", c.RedirectURL)
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: h.Path(RoutePostLogout)}).String()
}

func (h *Handler) postLogout(w http.ResponseWriter, req *http.Request) {
	sid, ok := h.sessionID(w, req)
	if !ok {
		return
	}
	if err := h.provider.CompleteLogout(req.Context(), sid, req.URL.Query().Get("state")); err != nil {
		h.failure(sid, nil, err, w, req)
		return
	}
	h.afterLogout(sid, w, req)
}

func (h *Handler) testCallback(w http.ResponseWriter, req *http.Request) {
	sid, ok := h.sessionID(w, req)
	if !ok {
		return
	}
	q := req.URL.Query()
	status, reason := http.StatusOK, ""
	if _, err := h.provider.ValidateCallback(req.Context(), sid, oidc.CallbackParamsFromQuery(q)); err != nil {
		status, reason = StatusCode(err), rejectionReason(err)
		if reason == "" {
			reason = http.StatusText(status)
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := renderTestCallback(w, reason, q); err != nil {
		h.logger.Error("unable to render test callback page", "error", err)
	}
}

func (h *Handler) userInfo(w http.ResponseWriter, req *http.Request) {
	sid, ok := h.sessionID(w, req)
	if !ok {
		return
	}
	info, err := h.provider.StoredUserInfo(req.Context(), sid)
	if err != nil {
		h.failure(sid, nil, err, w, req)
		return
	}
	writeJSON(w, info)
}

func (h *Handler) introspect(w http.ResponseWriter, req *http.Request) {
	sid, ok := h.sessionID(w, req)
	if !ok {
		return
	}
	v, err := h.provider.Introspect(req.Context(), sid)
	if err != nil {
		h.failure(sid, nil, err, w, req)
		return
	}
	writeJSON(w, v)
}

// RequireLogin wraps next so that requests from sessions without an access
// token are redirected to the login route.
func (h *Handler) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sid, ok := h.sessionID(w, req)
		if !ok {
			return
		}
		authenticated, err := h.Authenticated(req.Context(), sid)
		if err != nil {
			h.failure(sid, nil, err, w, req)
			return
		}
		if !authenticated {
			http.Redirect(w, req, h.Path(RouteLogin), http.StatusFound)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// Authenticated reports whether the session holds an access token.
func (h *Handler) Authenticated(ctx context.Context, sessionID string) (bool, error) {
	const op = "Handler.Authenticated"
	v, ok, err := h.provider.Store().Get(ctx, sessionID, oidc.KeyAccessToken)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %w", op, oidc.ErrSessionStore, err)
	}
	return ok && v != "", nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
