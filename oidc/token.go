package oidc

import (
	"encoding/json"
	"time"

	"golang.org/x/oauth2"
)

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// IdToken is an oidc id_token
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// BearerTokenType is the only token_type accepted from the token endpoint.
const BearerTokenType = "Bearer"

// TokenExchangeResult is the outcome of a successful authorization code
// exchange. There is no refresh or expiry tracking; Expiry is informational.
type TokenExchangeResult struct {
	AccessToken AccessToken `json:"access_token"`

	// IdToken is optional, but required for logout.
	IdToken IdToken `json:"id_token,omitempty"`

	// TokenType is always "Bearer" (compared case-insensitively).
	TokenType string `json:"token_type"`

	Expiry time.Time `json:"expiry,omitempty"`
}

// StaticTokenSource returns a TokenSource which always returns the access
// token as a bearer token.
func (t *TokenExchangeResult) StaticTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: string(t.AccessToken),
		TokenType:   BearerTokenType,
		Expiry:      t.Expiry,
	})
}

// UserInfo is the raw mapping of claim name to value returned by the
// provider's userinfo endpoint. It always contains "sub".
type UserInfo map[string]interface{}

// Subject returns the "sub" claim
func (u UserInfo) Subject() string { return u.str("sub") }

// Email returns the "email" claim, if the email scope was granted
func (u UserInfo) Email() string { return u.str("email") }

// Name returns the "name" claim, if the profile scope was granted
func (u UserInfo) Name() string { return u.str("name") }

func (u UserInfo) str(claim string) string {
	if v, ok := u[claim].(string); ok {
		return v
	}
	return ""
}
