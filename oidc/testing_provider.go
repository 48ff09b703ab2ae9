package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/oktaauth/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/oktaauth/sdk/http"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local TLS server which behaves like an Okta
// authorization server for the authorization code flow with PKCE. It makes
// writing tests for relying parties much easier.
//
// The /authorize endpoint records the code_challenge it was sent and answers
// with the expected auth code; /token then requires the matching
// code_verifier, HTTP Basic client credentials and an allowed redirect_uri.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	client     *http.Client

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	expectedAuthCode    string
	challenges          map[string]string
	replySubject        string
	replyUserinfo       map[string]interface{}
	replyAccessToken    string
	replyExpiry         time.Duration
	replyTokenType      string
	tokenStatus         int
	userinfoStatus      int
	omitIDToken         bool
	customClaims        map[string]interface{}
	tokenRequests       []url.Values
	logoutRequests      []url.Values

	signingKey *ecdsa.PrivateKey

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes.
//
// Supported options: WithTestPort
func StartTestProvider(t *testing.T, opt ...Option) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		t:                   t,
		clientID:            "test-client-id",
		clientSecret:        "test-client-secret",
		allowedRedirectURIs: []string{"https://example.com/authorization-code/callback"},
		expectedAuthCode:    "test-auth-code",
		challenges:          map[string]string{},
		replySubject:        "00u1abcd2EFGHijk3l4m",
		replyUserinfo: map[string]interface{}{
			"email": "alice@example.com",
			"name":  "Alice Doe",
		},
		replyAccessToken: "test-access-token",
		replyExpiry:      5 * time.Minute,
		replyTokenType:   BearerTokenType,
	}
	p.signingKey = TestSigningKey(t)
	p.jwks = TestJWKS(p.signingKey)

	if opts.withPort != 0 {
		p.httpServer = httptestNewUnstartedServerWithPort(t, p, opts.withPort)
	} else {
		p.httpServer = httptest.NewUnstartedServer(p)
	}
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	p.client, err = sdkHttp.NewClient(p.caCert)
	require.NoError(err)
	// browsers follow redirects on their own; tests want to see them
	p.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HttpClient returns a client which trusts the provider's CA and does not
// follow redirects.
func (p *TestProvider) HttpClient() *http.Client { return p.client }

// SigningKey returns the key the provider signs id_tokens with.
func (p *TestProvider) SigningKey() *ecdsa.PrivateKey { return p.signingKey }

// Config returns a Config whose endpoints, client credentials, redirect
// URL and CA point at the provider. opt is passed to NewConfig.
func (p *TestProvider) Config(t *testing.T, opt ...Option) *Config {
	t.Helper()
	p.mu.Lock()
	clientID, clientSecret := p.clientID, p.clientSecret
	redirectURL := p.allowedRedirectURIs[0]
	p.mu.Unlock()

	opts := append([]Option{
		WithProviderCA(p.CACert()),
		WithLogoutEndpoint(p.Addr() + "/logout"),
	}, opt...)
	c, err := NewConfig(
		clientID,
		ClientSecret(clientSecret),
		p.Addr()+"/authorize",
		p.Addr()+"/token",
		p.Addr()+"/userinfo",
		redirectURL,
		opts...,
	)
	require.NoError(t, err)
	return c
}

// Authorize plays the browser's part: it requests authURL and returns the
// query of the redirect the provider answers with.
func (p *TestProvider) Authorize(t *testing.T, authURL string) url.Values {
	t.Helper()
	require := require.New(t)
	resp, err := p.client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	return loc.Query()
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// ClientCreds returns the relying party client information required for the
// OIDC workflows.
func (p *TestProvider) ClientCreds() (clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /authorize and
// the allowed auth code for /token. An empty code makes /authorize deny
// every request.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs
// for the OIDC workflow. The first one is used by Config.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetExpectedChallenge records the code_challenge for a code, as if
// /authorize had been visited.
func (p *TestProvider) SetExpectedChallenge(code, challenge string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.challenges[code] = challenge
}

// SetTokenType configures the token_type returned by /token. An empty type
// omits the field.
func (p *TestProvider) SetTokenType(tokenType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyTokenType = tokenType
}

// SetTokenStatus makes /token answer with status and an oauth error body.
// Zero restores the normal behavior.
func (p *TestProvider) SetTokenStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// SetUserInfoStatus makes /userinfo answer with status. Zero restores the
// normal behavior.
func (p *TestProvider) SetUserInfoStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userinfoStatus = status
}

// SetUserInfoReply sets the claims returned by /userinfo. The "sub" claim
// is always set from the provider's subject.
func (p *TestProvider) SetUserInfoReply(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetSubject sets the subject of issued id_tokens and userinfo replies.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetExpectedExpiry sets the lifetime of issued tokens.
func (p *TestProvider) SetExpectedExpiry(exp time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = exp
}

// SetCustomClaims lets you set claims to return in the id_token.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// OmitIDTokens makes /token reply without an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// TokenRequests returns the form of every request /token accepted for
// processing.
func (p *TestProvider) TokenRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenRequests...)
}

// LogoutRequests returns the query of every /logout request.
func (p *TestProvider) LogoutRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.logoutRequests...)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirect := url.Values{
		"state": {qv.Get("state")},
		"error": {errorCode},
	}
	if errorMessage != "" {
		redirect.Set("error_description", errorMessage)
	}
	http.Redirect(w, req, qv.Get("redirect_uri")+"?"+redirect.Encode(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			UserinfoEndpoint   string   `json:"userinfo_endpoint"`
			EndSessionEndpoint string   `json:"end_session_endpoint"`
			Algs               []string `json:"id_token_signing_alg_values_supported"`
			Methods            []string `json:"code_challenge_methods_supported"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/authorize",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/keys",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			EndSessionEndpoint: p.Addr() + "/logout",
			Algs:               []string{string(ES256)},
			Methods:            []string{string(S256)},
		}
		_ = p.writeJSON(w, &reply)

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		switch {
		case !strutils.StrListContains(p.allowedRedirectURIs, qv.Get("redirect_uri")):
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_request","error_description":"redirect_uri is not allowed"}`))
			return
		case qv.Get("response_type") != ResponseTypeCode:
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case qv.Get("response_mode") != ResponseModeQuery:
			p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported response_mode")
			return
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "unknown client_id")
			return
		case !strutils.StrListContains(strings.Fields(qv.Get("scope")), ScopeOpenID):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "openid is required")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		case qv.Get("code_challenge_method") != string(S256) || qv.Get("code_challenge") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "PKCE S256 code_challenge is required")
			return
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "User is not assigned to the client application.")
			return
		}
		p.challenges[p.expectedAuthCode] = qv.Get("code_challenge")
		redirect := url.Values{
			"code":  {p.expectedAuthCode},
			"state": {qv.Get("state")},
		}
		http.Redirect(w, req, qv.Get("redirect_uri")+"?"+redirect.Encode(), http.StatusFound)

	case "/keys":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
			return
		}
		p.tokenRequests = append(p.tokenRequests, req.PostForm)
		if p.tokenStatus != 0 && p.tokenStatus != http.StatusOK {
			p.writeTokenErrorResponse(w, p.tokenStatus, "server_error", "configured failure")
			return
		}
		id, secret, ok := req.BasicAuth()
		if !ok || id != p.clientID || secret != p.clientSecret {
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}
		code := req.PostForm.Get("code")
		challenge, recorded := p.challenges[code]
		switch {
		case req.PostForm.Get("grant_type") != "authorization_code":
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		case !strutils.StrListContains(p.allowedRedirectURIs, req.PostForm.Get("redirect_uri")):
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri is not allowed")
			return
		case code == "" || code != p.expectedAuthCode || !recorded:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "The authorization code is invalid or has expired.")
			return
		case CodeChallenge(req.PostForm.Get("code_verifier")) != challenge:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed.")
			return
		}
		// codes are single use
		delete(p.challenges, code)

		now := time.Now()
		stdClaims := jwt.Claims{
			Subject:   p.replySubject,
			Issuer:    p.Addr(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(now.Add(p.replyExpiry)),
			Audience:  jwt.Audience{p.clientID},
		}
		reply := struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type,omitempty"`
			ExpiresIn   int    `json:"expires_in"`
			Scope       string `json:"scope"`
			IDToken     string `json:"id_token,omitempty"`
		}{
			AccessToken: p.replyAccessToken,
			TokenType:   p.replyTokenType,
			ExpiresIn:   int(p.replyExpiry.Seconds()),
			Scope:       DefaultScope,
		}
		if !p.omitIDToken {
			reply.IDToken = TestSignIdToken(p.t, p.signingKey, stdClaims, p.customClaims)
		}
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if req.Header.Get("Authorization") != fmt.Sprintf("%s %s", BearerTokenType, p.replyAccessToken) {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if p.userinfoStatus != 0 && p.userinfoStatus != http.StatusOK {
			w.WriteHeader(p.userinfoStatus)
			_, _ = w.Write([]byte(`{"error":"server_error"}`))
			return
		}
		reply := map[string]interface{}{}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		reply["sub"] = p.replySubject
		_ = p.writeJSON(w, reply)

	case "/logout":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		p.logoutRequests = append(p.logoutRequests, qv)
		if qv.Get("id_token_hint") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if postLogout := qv.Get("post_logout_redirect_uri"); postLogout != "" {
			redirect := url.Values{"state": {qv.Get("state")}}
			http.Redirect(w, req, postLogout+"?"+redirect.Encode(), http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)
	require.NotEmpty(port)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}

// testProviderOptions is the set of available options for TestProvider
// functions
type testProviderOptions struct {
	withPort int
}

// testProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the test provider defaults and applies the opt
// overrides passed in
func getTestProviderOpts(opt ...Option) testProviderOptions {
	opts := testProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTestPort provides an optional port for the test provider.
func WithTestPort(port int) Option {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withPort = port
		}
	}
}
