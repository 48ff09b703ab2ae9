package callback

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oktaauth/oidc"
)

// handlerOptions is the set of available options for NewHandler
type handlerOptions struct {
	withSessionIdentifier SessionIdentifier
	withConsumer          UserinfoConsumer
	withRegistry          *Registry
	withSuccess           SuccessResponseFunc
	withFailure           ErrorResponseFunc
	withBeforeLogout      BeforeLogoutFunc
	withAfterLogout       AfterLogoutFunc
	withLogger            hclog.Logger
}

// handlerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func handlerDefaults() handlerOptions {
	return handlerOptions{
		withSuccess: RedirectSuccess("/"),
		withFailure: JSONError,
		withAfterLogout: func(_ string, w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/", http.StatusFound)
		},
		withLogger: hclog.NewNullLogger(),
	}
}

func getHandlerOpts(opt ...oidc.Option) handlerOptions {
	opts := handlerDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithSessionIdentifier overrides how sessions are identified. The default is
// CookieSessions.
func WithSessionIdentifier(s SessionIdentifier) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && s != nil {
			o.withSessionIdentifier = s
		}
	}
}

// WithConsumer provides the UserinfoConsumer directly.
func WithConsumer(c UserinfoConsumer) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withConsumer = c
		}
	}
}

// WithRegistry provides the registry the configured
// AfterAuthenticationHandler name is looked up in.
func WithRegistry(r *Registry) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withRegistry = r
		}
	}
}

// WithSuccessResponse overrides the response of a successful callback. The
// default redirects to "/".
func WithSuccessResponse(fn SuccessResponseFunc) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && fn != nil {
			o.withSuccess = fn
		}
	}
}

// WithErrorResponse overrides the error response. The default is JSONError.
func WithErrorResponse(fn ErrorResponseFunc) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && fn != nil {
			o.withFailure = fn
		}
	}
}

// WithBeforeLogout provides a hook called before the logout redirect.
func WithBeforeLogout(fn BeforeLogoutFunc) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withBeforeLogout = fn
		}
	}
}

// WithAfterLogout overrides the response once logout completes. The default
// redirects to "/".
func WithAfterLogout(fn AfterLogoutFunc) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && fn != nil {
			o.withAfterLogout = fn
		}
	}
}

// WithLogger provides an optional hclog.Logger
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
