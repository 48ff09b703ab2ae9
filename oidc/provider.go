package oidc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
)

// Provider drives the authorization code flow with PKCE against a single
// provider. It builds the outbound redirects, keeps the flow's secrets in a
// SessionStore keyed by the caller's session id, validates callbacks and
// performs the back-channel exchange.
//
// A Provider holds no per-session state of its own and is safe for
// concurrent use.
type Provider struct {
	config   *Config
	store    SessionStore
	client   *Client
	verifier *oidc.IDTokenVerifier
	logger   hclog.Logger
	nowFunc  func() time.Time

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like refreshing the JWKs key set.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider. When the config has an
// Issuer, this includes an http request to the issuer's discovery document
// to fill any missing endpoints and to set up id_token verification.
//
// See Provider.Done() which must be called to release provider resources.
// Supported options: WithLogger, WithNow, WithHTTPClient
func NewProvider(c *Config, store SessionStore, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		store:               store,
		logger:              opts.withLogger,
		nowFunc:             opts.withNowFunc,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	httpClient := opts.withHTTPClient
	if httpClient == nil {
		var err error
		if httpClient, err = c.HTTPClient(); err != nil {
			p.Done() // release the backgroundCtxCancel resources
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	client, err := NewClient(httpClient, WithLogger(p.logger))
	if err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.client = client

	if c.Issuer != "" {
		d, err := discover(HTTPClientContext(p.backgroundCtx, httpClient), c.Issuer)
		if err != nil {
			p.Done()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		d.fill(c)
		if err := c.Validate(); err != nil {
			p.Done()
			return nil, fmt.Errorf("%s: provider config is invalid after discovery: %w", op, err)
		}
		p.verifier = d.verifier(c)
		p.logger.Debug("discovered provider endpoints", "issuer", c.Issuer)
	}
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's configuration. Callers must not modify it.
func (p *Provider) Config() *Config { return p.config }

// Store returns the provider's session store.
func (p *Provider) Store() SessionStore { return p.store }

// Client returns the provider's back-channel client.
func (p *Provider) Client() *Client { return p.client }

// Logger returns the provider's logger
func (p *Provider) Logger() hclog.Logger { return p.logger }

func (p *Provider) now() time.Time {
	if p.nowFunc != nil {
		return p.nowFunc()
	}
	return time.Now()
}

// UserInfo fetches the userinfo claims for an access token.
func (p *Provider) UserInfo(ctx context.Context, accessToken AccessToken) (UserInfo, error) {
	return p.client.FetchUserInfo(ctx, accessToken, p.config.UserinfoEndpoint)
}

// StoredUserInfo fetches the userinfo claims for the access token held in
// the session. It returns ErrNotAuthenticated when there is none.
func (p *Provider) StoredUserInfo(ctx context.Context, sessionID string) (UserInfo, error) {
	const op = "Provider.StoredUserInfo"
	tk, ok, err := p.store.Get(ctx, sessionID, KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSessionStore, err)
	}
	if !ok || tk == "" {
		return nil, fmt.Errorf("%s: no access token in session: %w", op, ErrNotAuthenticated)
	}
	return p.UserInfo(ctx, AccessToken(tk))
}

// providerOptions is the set of available options for Provider functions
type providerOptions struct {
	withLogger     hclog.Logger
	withNowFunc    func() time.Time
	withHTTPClient *http.Client
}

// providerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getProviderOpts gets the defaults and applies the opt overrides passed in
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides an optional http client used for every provider
// request instead of one built from the Config.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withHTTPClient = c
		}
	}
}
