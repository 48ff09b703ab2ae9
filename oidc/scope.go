package oidc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/oktaauth/oidc/internal/strutils"
)

// Reserved scopes understood by the provider.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeAddress       = "address"
	ScopePhone         = "phone"
	ScopeOfflineAccess = "offline_access"
	ScopeGroups        = "groups"
)

// DefaultScope is requested when no scope is configured.
const DefaultScope = "openid email profile"

var reservedScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeAddress,
	ScopePhone,
	ScopeOfflineAccess,
	ScopeGroups,
}

// ReservedScopes returns the set of scopes the provider reserves, sorted.
func ReservedScopes() []string {
	s := append([]string{}, reservedScopes...)
	sort.Strings(s)
	return s
}

// ParseScope splits a space separated scope string and validates it.
// "openid" must be present and every scope must be one of the
// ReservedScopes(). Every unknown scope is reported in the returned error.
func ParseScope(scope string) ([]string, error) {
	const op = "ParseScope"
	scopes := strutils.RemoveDuplicatesStable(strings.Fields(scope), false)
	if err := ValidateScopes(scopes); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return scopes, nil
}

// ValidateScopes validates a list of scopes. See ParseScope.
func ValidateScopes(scopes []string) error {
	var result *multierror.Error
	if !strutils.StrListContains(scopes, ScopeOpenID) {
		result = multierror.Append(result, ErrMissingOpenIDScope)
	}
	for _, s := range scopes {
		if !strutils.StrListContains(reservedScopes, s) {
			result = multierror.Append(result, fmt.Errorf("%q: %w", s, ErrUnknownScope))
		}
	}
	if result != nil {
		result.ErrorFormat = scopeErrorFormat
	}
	return result.ErrorOrNil()
}

func scopeErrorFormat(es []error) string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("invalid scope: %s", strings.Join(msgs, "; "))
}
