package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	sdkHttp "github.com/hashicorp/oktaauth/sdk/http"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultSessionTTL is how long an authorization attempt may take between
	// the redirect and the callback.
	DefaultSessionTTL = 10 * time.Minute

	// DefaultCallbackPath is the path (below URLPrefix) the provider redirects
	// back to.
	DefaultCallbackPath = "/authorization-code/callback"

	// DefaultURLPrefix is the path prefix the HTTP surface is mounted under.
	DefaultURLPrefix = "/okta"
)

// Config represents the configuration for an authorization code flow with
// PKCE against a single provider.
type Config struct {
	// ClientID is the relying party id
	ClientID string `yaml:"client_id" validate:"required"`

	// ClientSecret is the relying party secret
	ClientSecret ClientSecret `yaml:"client_secret" validate:"required"`

	// AuthorizationEndpoint is the provider's /authorize URL. It may be left
	// empty when Issuer is set, in which case it is discovered.
	AuthorizationEndpoint string `yaml:"authorization_endpoint" validate:"required_without=Issuer,omitempty,url"`

	// TokenEndpoint is the provider's /token URL. Discovered when empty and
	// Issuer is set.
	TokenEndpoint string `yaml:"token_endpoint" validate:"required_without=Issuer,omitempty,url"`

	// UserinfoEndpoint is the provider's /userinfo URL. Discovered when empty
	// and Issuer is set.
	UserinfoEndpoint string `yaml:"userinfo_endpoint" validate:"required_without=Issuer,omitempty,url"`

	// LogoutEndpoint is the optional provider logout URL.
	LogoutEndpoint string `yaml:"logout_endpoint" validate:"omitempty,url"`

	// RedirectURL is this application's callback URL. It must exactly match
	// the provider registration.
	RedirectURL string `yaml:"redirect_uri" validate:"required,url"`

	// PostLogoutRedirectURL is where the provider sends the user after
	// logout. When empty, callback.Handler uses its post-logout route on the
	// scheme and host of RedirectURL; set it when the post-logout route is
	// served from another public address.
	PostLogoutRedirectURL string `yaml:"post_logout_redirect_uri" validate:"omitempty,url"`

	// Debug enables the redirect preview page and the introspection and
	// test-callback endpoints.
	Debug bool `yaml:"debug"`

	// Issuer is an optional issuer URL. When set, missing endpoints are
	// discovered and returned id_tokens are verified.
	Issuer string `yaml:"issuer" validate:"omitempty,url"`

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string `yaml:"provider_ca"`

	// Scope is the space separated list of scopes requested. Defaults to
	// DefaultScope.
	Scope string `yaml:"scope"`

	// SupportedSigningAlgs is a list of algorithms accepted when verifying
	// id_tokens. When empty the algorithms advertised by the provider are used.
	SupportedSigningAlgs []Alg `yaml:"supported_signing_algs"`

	// SessionTTL bounds the time between the authorization redirect and the
	// callback. Defaults to DefaultSessionTTL.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// URLPrefix is the path prefix the HTTP surface is mounted under.
	URLPrefix string `yaml:"url_prefix"`

	// CallbackPath is the callback route below URLPrefix.
	CallbackPath string `yaml:"callback_path"`

	// AfterAuthenticationHandler names a registered userinfo consumer.
	AfterAuthenticationHandler string `yaml:"after_authentication_handler"`
}

// NewConfig composes a new config for a provider.
// Supported options:
//
//	WithLogoutEndpoint
//	WithPostLogoutRedirectURL
//	WithDebug
//	WithIssuer
//	WithProviderCA
//	WithScope
//	WithSupportedSigningAlgs
//	WithSessionTTL
func NewConfig(clientID string, clientSecret ClientSecret, authorizationEndpoint, tokenEndpoint, userinfoEndpoint, redirectURL string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		AuthorizationEndpoint: authorizationEndpoint,
		TokenEndpoint:         tokenEndpoint,
		UserinfoEndpoint:      userinfoEndpoint,
		RedirectURL:           redirectURL,
		LogoutEndpoint:        opts.withLogoutEndpoint,
		PostLogoutRedirectURL: opts.withPostLogoutRedirectURL,
		Debug:                 opts.withDebug,
		Issuer:                opts.withIssuer,
		ProviderCA:            opts.withProviderCA,
		Scope:                 opts.withScope,
		SupportedSigningAlgs:  opts.withSupportedSigningAlgs,
		SessionTTL:            opts.withSessionTTL,
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.URLPrefix == "" {
		c.URLPrefix = DefaultURLPrefix
	}
	if c.CallbackPath == "" {
		c.CallbackPath = DefaultCallbackPath
	}
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	// report the configuration key rather than the Go field name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return strings.ToUpper(name)
	})
	return v
}

// Validate the provider configuration. Every problem found is reported in
// the returned error. It doesn't verify the Issuer is discoverable via an
// http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error

	if err := configValidator.Struct(c); err != nil {
		var vErrs validator.ValidationErrors
		if !errors.As(err, &vErrs) {
			return fmt.Errorf("%s: %w", op, err)
		}
		for _, fe := range vErrs {
			switch fe.Tag() {
			case "required", "required_without":
				result = multierror.Append(result, fmt.Errorf("%s is empty: %w", fe.Field(), ErrMissingConfig))
			default:
				result = multierror.Append(result, fmt.Errorf("%s %q is not a valid URL: %w", fe.Field(), fe.Value(), ErrInvalidParameter))
			}
		}
	}
	for _, e := range []struct{ name, u string }{
		{"AUTHORIZATION_ENDPOINT", c.AuthorizationEndpoint},
		{"TOKEN_ENDPOINT", c.TokenEndpoint},
		{"USERINFO_ENDPOINT", c.UserinfoEndpoint},
		{"LOGOUT_ENDPOINT", c.LogoutEndpoint},
		{"ISSUER", c.Issuer},
	} {
		if e.u == "" {
			continue
		}
		if parsed, err := url.Parse(e.u); err == nil && parsed.Scheme != "https" && parsed.Scheme != "http" {
			result = multierror.Append(result, fmt.Errorf("%s %s schema is not http or https: %w", e.name, e.u, ErrInvalidParameter))
		}
	}
	if c.Scope != "" {
		if err := ValidateScopes(strings.Fields(c.Scope)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.SessionTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("SESSION_TTL must not be negative: %w", ErrInvalidParameter))
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %s: %w", a, ErrInvalidParameter))
		}
	}
	if c.CallbackPath != "" && !strings.HasPrefix(c.CallbackPath, "/") {
		result = multierror.Append(result, fmt.Errorf("CALLBACK_PATH %q must start with /: %w", c.CallbackPath, ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err)
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkHttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withLogoutEndpoint        string
	withPostLogoutRedirectURL string
	withDebug                 bool
	withIssuer                string
	withProviderCA            string
	withScope                 string
	withSupportedSigningAlgs  []Alg
	withSessionTTL            time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogoutEndpoint provides an optional provider logout endpoint
func WithLogoutEndpoint(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogoutEndpoint = u
		}
	}
}

// WithPostLogoutRedirectURL provides an optional URL the provider sends the
// user to after logout, for: Config, PrepareLogoutRedirect
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withPostLogoutRedirectURL = u
		case *logoutOptions:
			v.withPostLogoutRedirectURL = u
		}
	}
}

// WithDebug enables debug mode
func WithDebug(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDebug = enabled
		}
	}
}

// WithIssuer provides an optional issuer used for discovery and id_token
// verification
func WithIssuer(issuer string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIssuer = issuer
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithScope provides an optional space separated scope, for: Config,
// PrepareAuthorizationRedirect
func WithScope(scope string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScope = scope
		case *authRedirectOptions:
			v.withScope = scope
		}
	}
}

// WithSupportedSigningAlgs provides an optional list of algorithms accepted
// when verifying id_tokens
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithSessionTTL provides an optional lifetime for authorization attempts
func WithSessionTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSessionTTL = d
		}
	}
}
