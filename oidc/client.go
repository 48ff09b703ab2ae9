package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of an upstream error response is kept.
const maxErrorBody = 1024

// Client performs the back-channel calls of the flow: the authorization code
// exchange and the userinfo request. Both are single-shot; errors are never
// retried since authorization codes are single-use.
type Client struct {
	httpClient *http.Client
	logger     hclog.Logger
}

// NewClient creates a Client using httpClient for every request. No timeout
// is imposed beyond what httpClient and the request context provide.
// Supported options: WithLogger
func NewClient(httpClient *http.Client, opt ...Option) (*Client, error) {
	const op = "NewClient"
	if httpClient == nil {
		return nil, fmt.Errorf("%s: http client is nil: %w", op, ErrNilParameter)
	}
	opts := getProviderOpts(opt...)
	return &Client{
		httpClient: httpClient,
		logger:     opts.withLogger,
	}, nil
}

// ExchangeRequest holds everything needed to exchange an authorization code.
type ExchangeRequest struct {
	Code          string
	CodeVerifier  string
	RedirectURL   string
	ClientID      string
	ClientSecret  ClientSecret
	TokenEndpoint string
}

func (r ExchangeRequest) validate() error {
	switch {
	case r.Code == "":
		return fmt.Errorf("code is empty: %w", ErrInvalidParameter)
	case r.CodeVerifier == "":
		return fmt.Errorf("code_verifier is empty: %w", ErrInvalidParameter)
	case r.RedirectURL == "":
		return fmt.Errorf("redirect_uri is empty: %w", ErrInvalidParameter)
	case r.ClientID == "":
		return fmt.Errorf("client id is empty: %w", ErrInvalidParameter)
	case r.TokenEndpoint == "":
		return fmt.Errorf("token endpoint is empty: %w", ErrInvalidParameter)
	}
	return nil
}

// ExchangeCode posts the authorization code and code_verifier to the token
// endpoint (form encoded, HTTP Basic client authentication). A non-2xx
// response is returned as an *UpstreamError wrapping ErrTokenExchangeFailed
// and a token_type other than Bearer as ErrUnsupportedTokenType.
func (c *Client) ExchangeCode(ctx context.Context, r ExchangeRequest) (*TokenExchangeResult, error) {
	const op = "Client.ExchangeCode"
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oauth2Config := oauth2.Config{
		ClientID:     r.ClientID,
		ClientSecret: string(r.ClientSecret),
		RedirectURL:  r.RedirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	tk, err := oauth2Config.Exchange(HTTPClientContext(ctx, c.httpClient), r.Code, oauth2.VerifierOption(r.CodeVerifier))
	if err != nil {
		var rErr *oauth2.RetrieveError
		switch {
		case errors.As(err, &rErr):
			status := 0
			if rErr.Response != nil {
				status = rErr.Response.StatusCode
			}
			c.logger.Error("token endpoint rejected exchange", "status", status, "error_code", rErr.ErrorCode)
			return nil, &UpstreamError{Op: op, StatusCode: status, Body: truncate(string(rErr.Body)), Wrapped: ErrTokenExchangeFailed}
		case isTransportErr(err):
			c.logger.Error("unable to reach token endpoint", "error", err)
			return nil, transportErr(op, err)
		default:
			return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchangeFailed, err)
		}
	}
	if !strings.EqualFold(tk.TokenType, BearerTokenType) {
		return nil, fmt.Errorf("%s: token_type %q: %w", op, tk.TokenType, ErrUnsupportedTokenType)
	}
	result := &TokenExchangeResult{
		AccessToken: AccessToken(tk.AccessToken),
		TokenType:   BearerTokenType,
		Expiry:      tk.Expiry,
	}
	if idToken, ok := tk.Extra("id_token").(string); ok {
		result.IdToken = IdToken(idToken)
	}
	return result, nil
}

// FetchUserInfo requests the userinfo claims for accessToken. A non-2xx
// response is returned as an *UpstreamError wrapping ErrUserInfoFailed.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken AccessToken, userinfoEndpoint string) (UserInfo, error) {
	const op = "Client.FetchUserInfo"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if userinfoEndpoint == "" {
		return nil, fmt.Errorf("%s: userinfo endpoint is empty: %w", op, ErrInvalidParameter)
	}
	ts := (&TokenExchangeResult{AccessToken: accessToken}).StaticTokenSource()
	client := oauth2.NewClient(HTTPClientContext(ctx, c.httpClient), ts)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("unable to reach userinfo endpoint", "error", err)
		return nil, transportErr(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportErr(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("userinfo endpoint returned an error", "status", resp.StatusCode)
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body)), Wrapped: ErrUserInfoFailed}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil && mediaType == "application/jwt" {
			return nil, fmt.Errorf("%s: signed userinfo responses are not supported: %w", op, ErrUserInfoFailed)
		}
	}
	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%s: unable to decode claims: %w: %w", op, ErrUserInfoFailed, err)
	}
	if info.Subject() == "" {
		return nil, fmt.Errorf("%s: sub claim is missing: %w", op, ErrUserInfoFailed)
	}
	return info, nil
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
