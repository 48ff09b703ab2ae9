package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExchangeResult_Redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tk := &TokenExchangeResult{
		AccessToken: "secret-access-token",
		IdToken:     "secret-id-token",
		TokenType:   BearerTokenType,
		Expiry:      time.Now().Add(time.Hour),
	}
	for _, s := range []string{fmt.Sprintf("%v", tk), fmt.Sprintf("%s", tk.AccessToken), fmt.Sprintf("%+v", *tk)} {
		assert.NotContains(s, "secret-access-token")
		assert.NotContains(s, "secret-id-token")
	}
	b, err := json.Marshal(tk)
	require.NoError(err)
	assert.NotContains(string(b), "secret-")
	assert.Contains(string(b), RedactedAccessToken)
	assert.Contains(string(b), RedactedIdToken)
	assert.Equal(RedactedIdToken, tk.IdToken.String())
}

func TestTokenExchangeResult_StaticTokenSource(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tk := &TokenExchangeResult{AccessToken: "access", TokenType: BearerTokenType}
	got, err := tk.StaticTokenSource().Token()
	require.NoError(err)
	assert.Equal("access", got.AccessToken)
	assert.Equal(BearerTokenType, got.Type())
}

func TestUserInfo(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	u := UserInfo{"sub": "00u1", "email": "alice@example.com", "name": 42}
	assert.Equal("00u1", u.Subject())
	assert.Equal("alice@example.com", u.Email())
	assert.Empty(u.Name())
	assert.Empty(UserInfo(nil).Subject())
}
