package strutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrListContains(t *testing.T) {
	t.Parallel()
	scopes := []string{"openid", "email", "profile"}
	assert.True(t, StrListContains(scopes, "openid"))
	assert.False(t, StrListContains(scopes, "OpenID"))
	assert.False(t, StrListContains(nil, "openid"))
}

func TestRemoveDuplicatesStable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		in              []string
		caseInsensitive bool
		want            []string
	}{
		{"empty", []string{}, false, []string{}},
		{"repeated-scope", []string{"openid", "email", "openid"}, false, []string{"openid", "email"}},
		{"case-sensitive", []string{"Email", "email"}, false, []string{"Email", "email"}},
		{"case-insensitive", []string{"Email", "email"}, true, []string{"Email"}},
		{"blank", []string{" ", "openid", ""}, false, []string{"openid"}},
		{"trimmed", []string{"openid ", " openid", "email"}, false, []string{"openid ", "email"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveDuplicatesStable(tt.in, tt.caseInsensitive))
		})
	}
}
