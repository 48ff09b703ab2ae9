package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestNewCodeVerifier(t *testing.T) {
	t.Parallel()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier()
		require.NoError(err)
		assert.Len(got.Verifier(), 86)
		assert.Regexp(urlSafe, got.Verifier())
		assert.Equal(S256, got.Method())

		challenge, err := CreateCodeChallenge(S256, got)
		require.NoError(err)
		assert.Equal(challenge, got.Challenge())
	})
	t.Run("unique", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			v, err := NewCodeVerifier()
			require.NoError(err)
			assert.False(seen[v.Verifier()])
			seen[v.Verifier()] = true
		}
	})
	tests := []struct {
		name      string
		bytes     int
		wantLen   int
		wantErrIs error
	}{
		{name: "min", bytes: 32, wantLen: 43},
		{name: "max", bytes: 96, wantLen: 128},
		{name: "too-short", bytes: 31, wantErrIs: ErrInvalidParameter},
		{name: "too-long", bytes: 97, wantErrIs: ErrInvalidParameter},
		{name: "zero", bytes: 0, wantErrIs: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewCodeVerifier(WithSecretBytes(tt.bytes))
			if tt.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErrIs)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Len(got.Verifier(), tt.wantLen)
		})
	}
}

func TestS256Verifier_Copy(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	v, err := NewCodeVerifier()
	require.NoError(err)
	cp := v.Copy()
	assert.Equal(v, cp)
	assert.NotSame(v, cp)
}

func TestCodeChallenge(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	// RFC 7636 appendix B
	assert.Equal(
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"),
	)
	assert.Len(CodeChallenge("anything"), 43)
	assert.NotContains(CodeChallenge("anything"), "=")
}

func TestCreateCodeChallenge(t *testing.T) {
	t.Parallel()
	calcHash := func(data []byte) string {
		h := sha256.New()
		_, _ = h.Write(data)
		sum := h.Sum(nil)
		return base64.RawURLEncoding.EncodeToString(sum)
	}
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		challenge, err := CreateCodeChallenge(S256, v)
		require.NoError(err)
		assert.Equal(calcHash([]byte(v.Verifier())), challenge)
	})
	t.Run("invalid-method", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		challenge, err := CreateCodeChallenge(ChallengeMethod("plain"), v)
		require.Error(err)
		assert.Empty(challenge)
		assert.ErrorIs(err, ErrUnsupportedChallengeMethod)
		assert.Equal(KindConfiguration, ErrorKind(err))
	})
	t.Run("nil-verifier", func(t *testing.T) {
		assert := assert.New(t)
		_, err := CreateCodeChallenge(S256, nil)
		assert.ErrorIs(err, ErrNilParameter)
	})
}

func TestNewStateToken(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s1, err := NewStateToken()
	require.NoError(err)
	s2, err := NewStateToken()
	require.NoError(err)
	assert.Len(s1, 86)
	assert.Regexp(urlSafe, s1)
	assert.NotEqual(s1, s2)

	_, err = NewStateToken(WithSecretBytes(-1))
	assert.ErrorIs(err, ErrInvalidParameter)
}
