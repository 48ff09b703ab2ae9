package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// discovery is the subset of the provider's discovery document used to fill
// a Config.
type discovery struct {
	provider *oidc.Provider
	claims   struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
}

// discover makes an http request to the issuer's
// /.well-known/openid-configuration.
func discover(ctx context.Context, issuer string) (*discovery, error) {
	const op = "discover"
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscoveryFailed, err)
	}
	d := &discovery{provider: p}
	if err := p.Claims(&d.claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode discovery document: %w: %w", op, ErrDiscoveryFailed, err)
	}
	return d, nil
}

// fill sets any endpoint the config left empty.
func (d *discovery) fill(c *Config) {
	ep := d.provider.Endpoint()
	if c.AuthorizationEndpoint == "" {
		c.AuthorizationEndpoint = ep.AuthURL
	}
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = ep.TokenURL
	}
	if c.UserinfoEndpoint == "" {
		c.UserinfoEndpoint = d.provider.UserInfoEndpoint()
	}
	if c.LogoutEndpoint == "" {
		c.LogoutEndpoint = d.claims.EndSessionEndpoint
	}
}

func (d *discovery) verifier(c *Config) *oidc.IDTokenVerifier {
	algs := make([]string, 0, len(c.SupportedSigningAlgs))
	for _, a := range c.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	return d.provider.Verifier(&oidc.Config{
		ClientID:             c.ClientID,
		SupportedSigningAlgs: algs,
	})
}

// VerifyIdToken verifies the id_token's signature, issuer, audience and
// expiry. It is a no-op returning nil when the Provider was configured
// without an Issuer.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIdToken(ctx context.Context, t IdToken) error {
	const op = "Provider.VerifyIdToken"
	if p.verifier == nil {
		return nil
	}
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if _, err := p.verifier.Verify(ctx, string(t)); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, err)
	}
	return nil
}
