package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowState_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("none", FlowNone.String())
	assert.Equal("redirect_issued", FlowRedirectIssued.String())
	assert.Equal("callback_received", FlowCallbackReceived.String())
	assert.Equal("validated", FlowValidated.String())
	assert.Equal("exchanged", FlowExchanged.String())
	assert.Equal("authenticated", FlowAuthenticated.String())
	assert.Equal("rejected", FlowRejected.String())
	assert.Equal("unknown", FlowState(42).String())
}

func TestCallbackParamsFromQuery(t *testing.T) {
	t.Parallel()
	got := CallbackParamsFromQuery(url.Values{
		"code":              {"c"},
		"state":             {"s"},
		"error":             {"access_denied"},
		"error_description": {"nope"},
		"error_uri":         {"https://example.com/err"},
	})
	assert.Equal(t, CallbackParams{
		Code:             "c",
		State:            "s",
		Error:            "access_denied",
		ErrorDescription: "nope",
		ErrorURI:         "https://example.com/err",
	}, got)
}

// testLogin prepares a redirect for sessionID and follows it through the
// provider's /authorize, returning the callback parameters.
func testLogin(t *testing.T, p *Provider, tp *TestProvider, sessionID string) CallbackParams {
	t.Helper()
	_, target, err := p.PrepareAuthorizationRedirect(context.Background(), sessionID)
	require.NoError(t, err)
	return CallbackParamsFromQuery(tp.Authorize(t, target.URL()))
}

func assertSecretsCleared(t *testing.T, store *testStore, sessionID string) {
	t.Helper()
	for _, k := range []string{KeyState, KeyCodeVerifier, KeyExpiresAt} {
		_, ok := store.value(sessionID, k)
		assert.Falsef(t, ok, "%s should have been cleared", k)
	}
}

func TestProvider_Callback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("authenticated", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetSubject("00uALICE")
		store := newTestStore()
		p := testNewProvider(t, tp, store)

		params := testLogin(t, p, tp, "sid")
		assert.Equal("test-auth-code", params.Code)

		result, err := p.Callback(ctx, "sid", params)
		require.NoError(err)
		assert.Equal(FlowAuthenticated, result.State)
		assert.Equal(AccessToken("test-access-token"), result.Token.AccessToken)
		assert.Equal("00uALICE", result.UserInfo.Subject())
		assert.Equal("alice@example.com", result.UserInfo.Email())

		assertSecretsCleared(t, store, "sid")
		at, ok := store.value("sid", KeyAccessToken)
		require.True(ok)
		assert.Equal("test-access-token", at)
		_, ok = store.value("sid", KeyIdToken)
		assert.True(ok)
		assert.Len(tp.TokenRequests(), 1)
	})
	t.Run("authenticated-with-discovery", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		clientID, clientSecret := tp.ClientCreds()
		c, err := NewConfig(clientID, ClientSecret(clientSecret), "", "", "", "https://example.com/authorization-code/callback",
			WithIssuer(tp.Addr()),
			WithProviderCA(tp.CACert()),
		)
		require.NoError(err)
		store := newTestStore()
		p, err := NewProvider(c, store)
		require.NoError(err)
		defer p.Done()

		result, err := p.Callback(ctx, "sid", testLogin(t, p, tp, "sid"))
		require.NoError(err)
		assert.Equal(FlowAuthenticated, result.State)
		require.NoError(p.VerifyIdToken(ctx, result.Token.IdToken))
	})
	t.Run("id-token-wrong-audience", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetCustomClaims(map[string]interface{}{"aud": "someone-else"})
		clientID, clientSecret := tp.ClientCreds()
		c, err := NewConfig(clientID, ClientSecret(clientSecret), "", "", "", "https://example.com/authorization-code/callback",
			WithIssuer(tp.Addr()),
			WithProviderCA(tp.CACert()),
		)
		require.NoError(err)
		store := newTestStore()
		p, err := NewProvider(c, store)
		require.NoError(err)
		defer p.Done()

		result, err := p.Callback(ctx, "sid", testLogin(t, p, tp, "sid"))
		require.Error(err)
		assert.ErrorIs(err, ErrIdTokenVerificationFailed)
		assert.Equal(FlowRejected, result.State)
		_, ok := store.value("sid", KeyAccessToken)
		assert.False(ok)
		assertSecretsCleared(t, store, "sid")
	})

	tests := []struct {
		name         string
		setup        func(tp *TestProvider)
		params       func(p CallbackParams) CallbackParams
		wantErrIs    []error
		wantKind     Kind
		wantStatus   int
		wantExchange bool
		wantToken    bool
	}{
		{
			name:      "missing-code",
			params:    func(p CallbackParams) CallbackParams { p.Code = ""; return p },
			wantErrIs: []error{ErrCodeNotReturned},
			wantKind:  KindCallbackRejected,
		},
		{
			name:      "state-mismatch",
			params:    func(p CallbackParams) CallbackParams { p.State = "forged-state"; return p },
			wantErrIs: []error{ErrStateMismatch},
			wantKind:  KindCallbackRejected,
		},
		{
			name:      "state-missing",
			params:    func(p CallbackParams) CallbackParams { p.State = ""; return p },
			wantErrIs: []error{ErrStateMismatch},
			wantKind:  KindCallbackRejected,
		},
		{
			name: "provider-error",
			params: func(p CallbackParams) CallbackParams {
				return CallbackParams{State: p.State, Error: "access_denied", ErrorDescription: "User is not assigned"}
			},
			wantErrIs: []error{ErrLoginFailed},
			wantKind:  KindCallbackRejected,
		},
		{
			name:         "unsupported-token-type",
			setup:        func(tp *TestProvider) { tp.SetTokenType("mac") },
			wantErrIs:    []error{ErrUnsupportedTokenType},
			wantKind:     KindUpstreamProtocol,
			wantExchange: true,
		},
		{
			name:         "token-endpoint-error",
			setup:        func(tp *TestProvider) { tp.SetTokenStatus(http.StatusBadGateway) },
			wantErrIs:    []error{ErrTokenExchangeFailed},
			wantKind:     KindUpstreamProtocol,
			wantStatus:   http.StatusBadGateway,
			wantExchange: true,
		},
		{
			name:         "userinfo-error",
			setup:        func(tp *TestProvider) { tp.SetUserInfoStatus(http.StatusInternalServerError) },
			wantErrIs:    []error{ErrUserInfoFailed},
			wantKind:     KindUpstreamProtocol,
			wantStatus:   http.StatusInternalServerError,
			wantExchange: true,
			wantToken:    true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			if tt.setup != nil {
				tt.setup(tp)
			}
			store := newTestStore()
			p := testNewProvider(t, tp, store)

			params := testLogin(t, p, tp, "sid")
			if tt.params != nil {
				params = tt.params(params)
			}
			result, err := p.Callback(ctx, "sid", params)
			require.Error(err)
			require.NotNil(result)
			assert.Equal(FlowRejected, result.State)
			for _, e := range tt.wantErrIs {
				assert.ErrorIs(err, e)
			}
			assert.Equal(tt.wantKind, ErrorKind(err))
			if tt.wantStatus != 0 {
				var uErr *UpstreamError
				require.True(errors.As(err, &uErr))
				assert.Equal(tt.wantStatus, uErr.StatusCode)
			}
			if tt.wantExchange {
				assert.Len(tp.TokenRequests(), 1)
			} else {
				assert.Empty(tp.TokenRequests())
			}
			assert.Equal(tt.wantToken, result.Token != nil)
			assertSecretsCleared(t, store, "sid")
			// a rejected callback never leaves the session authenticated
			for _, k := range []string{KeyAccessToken, KeyIdToken} {
				_, ok := store.value("sid", k)
				assert.Falsef(ok, "%s should not be stored", k)
			}
		})
	}

	t.Run("session-rotation", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		store := newTestStore()
		p := testNewProvider(t, tp, store)
		// tokens of an earlier login under the planted id
		require.NoError(store.Put(ctx, "planted", KeyAccessToken, "old-access-token"))

		calls := 0
		result, err := p.Callback(ctx, "planted", testLogin(t, p, tp, "planted"), WithSessionRotation(func() (string, error) {
			calls++
			return "fresh", nil
		}))
		require.NoError(err)
		assert.Equal(FlowAuthenticated, result.State)
		assert.Equal("fresh", result.SessionID)
		assert.Equal(1, calls)

		at, ok := store.value("fresh", KeyAccessToken)
		require.True(ok)
		assert.Equal("test-access-token", at)
		_, ok = store.value("fresh", KeyIdToken)
		assert.True(ok)
		for _, k := range []string{KeyAccessToken, KeyIdToken} {
			_, ok := store.value("planted", k)
			assert.Falsef(ok, "%s should not be reachable by the old session id", k)
		}
		assertSecretsCleared(t, store, "planted")
	})
	t.Run("session-rotation-not-called-on-rejection", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetUserInfoStatus(http.StatusInternalServerError)
		store := newTestStore()
		p := testNewProvider(t, tp, store)

		calls := 0
		result, err := p.Callback(ctx, "sid", testLogin(t, p, tp, "sid"), WithSessionRotation(func() (string, error) {
			calls++
			return "fresh", nil
		}))
		require.Error(err)
		assert.Equal(FlowRejected, result.State)
		assert.Equal("sid", result.SessionID)
		assert.Zero(calls)
		_, ok := store.value("fresh", KeyAccessToken)
		assert.False(ok)
	})
	t.Run("session-rotation-fails", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		store := newTestStore()
		p := testNewProvider(t, tp, store)

		result, err := p.Callback(ctx, "sid", testLogin(t, p, tp, "sid"), WithSessionRotation(func() (string, error) {
			return "", errors.New("no entropy")
		}))
		require.Error(err)
		assert.Equal(FlowRejected, result.State)
		_, ok := store.value("sid", KeyAccessToken)
		assert.False(ok)
	})
	t.Run("token-store-fails", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		store := newTestStore()
		p := testNewProvider(t, tp, store)

		params := testLogin(t, p, tp, "sid")
		store.mu.Lock()
		store.failPut = true
		store.mu.Unlock()
		result, err := p.Callback(ctx, "sid", params)
		require.Error(err)
		assert.ErrorIs(err, ErrSessionStore)
		assert.Equal(FlowRejected, result.State)
		_, ok := store.value("sid", KeyAccessToken)
		assert.False(ok)
	})

	t.Run("no-auth-session", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, newTestStore())
		result, err := p.Callback(ctx, "sid", CallbackParams{Code: "test-auth-code", State: "whatever"})
		require.Error(err)
		assert.Equal(FlowRejected, result.State)
		assert.ErrorIs(err, ErrStateMismatch)
		assert.ErrorIs(err, ErrSessionNotFound)
		assert.Empty(tp.TokenRequests())
	})
	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		store := newTestStore()
		clock := newTestClock()
		p := testNewProvider(t, tp, store, WithNow(clock.Now))

		params := testLogin(t, p, tp, "sid")
		clock.Advance(DefaultSessionTTL + time.Second)
		result, err := p.Callback(ctx, "sid", params)
		require.Error(err)
		assert.Equal(FlowRejected, result.State)
		assert.ErrorIs(err, ErrExpiredSession)
		assert.Empty(tp.TokenRequests())
		assertSecretsCleared(t, store, "sid")
	})
	t.Run("replay", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		store := newTestStore()
		p := testNewProvider(t, tp, store)

		params := testLogin(t, p, tp, "sid")
		_, err := p.Callback(ctx, "sid", params)
		require.NoError(err)

		result, err := p.Callback(ctx, "sid", params)
		require.Error(err)
		assert.Equal(FlowRejected, result.State)
		assert.ErrorIs(err, ErrStateMismatch)
		assert.Len(tp.TokenRequests(), 1)
	})
	t.Run("latest-attempt-wins", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, newTestStore())

		first := testLogin(t, p, tp, "sid")
		second := testLogin(t, p, tp, "sid")

		_, err := p.Callback(ctx, "sid", first)
		assert.ErrorIs(err, ErrStateMismatch)

		// the rejection cleared the attempt, so a fresh one is needed
		_, err = p.Callback(ctx, "sid", second)
		assert.ErrorIs(err, ErrSessionNotFound)

		result, err := p.Callback(ctx, "sid", testLogin(t, p, tp, "sid"))
		require.NoError(err)
		assert.Equal(FlowAuthenticated, result.State)
	})
	t.Run("sessions-are-isolated", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		store := newTestStore()
		p := testNewProvider(t, tp, store)

		_, a, err := p.PrepareAuthorizationRedirect(ctx, "sid-a")
		require.NoError(err)
		_, b, err := p.PrepareAuthorizationRedirect(ctx, "sid-b")
		require.NoError(err)
		assert.NotEqual(a.Query.Get("state"), b.Query.Get("state"))

		// b's state presented in a's session
		_, err = p.Callback(ctx, "sid-a", CallbackParams{Code: "test-auth-code", State: b.Query.Get("state")})
		assert.ErrorIs(err, ErrStateMismatch)

		// b is untouched by a's rejection
		result, err := p.Callback(ctx, "sid-b", CallbackParamsFromQuery(tp.Authorize(t, b.URL())))
		require.NoError(err)
		assert.Equal(FlowAuthenticated, result.State)
	})
	t.Run("concurrent-sessions", func(t *testing.T) {
		t.Parallel()
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, newTestStore())

		const n = 20
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sid := fmt.Sprintf("sid-%d", i)
				_, target, err := p.PrepareAuthorizationRedirect(ctx, sid)
				if err != nil {
					errs[i] = err
					return
				}
				_, errs[i] = p.ValidateCallback(ctx, sid, CallbackParams{Code: "c", State: target.Query.Get("state")})
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}
	})
	t.Run("empty-session-id", func(t *testing.T) {
		t.Parallel()
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, newTestStore())
		result, err := p.Callback(ctx, "", CallbackParams{Code: "c", State: "s"})
		assert.ErrorIs(t, err, ErrInvalidParameter)
		assert.Equal(t, FlowRejected, result.State)
	})
}

func TestProvider_ClearTokens(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)
	store := newTestStore()
	p := testNewProvider(t, tp, store)

	result, err := p.Callback(ctx, "sid", testLogin(t, p, tp, "sid"))
	require.NoError(err)
	require.Equal(FlowAuthenticated, result.State)

	require.NoError(p.ClearTokens(ctx, "sid"))
	for _, k := range []string{KeyAccessToken, KeyIdToken} {
		_, ok := store.value("sid", k)
		assert.Falsef(ok, "%s should have been cleared", k)
	}
	_, err = p.StoredUserInfo(ctx, "sid")
	assert.ErrorIs(err, ErrNotAuthenticated)

	assert.ErrorIs(p.ClearTokens(ctx, ""), ErrInvalidParameter)
}

func TestProvider_ValidateCallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	store := newTestStore()
	p := testNewProvider(t, tp, store)

	params := testLogin(t, p, tp, "sid")
	s, err := p.ValidateCallback(ctx, "sid", params)
	require.NoError(err)
	assert.Equal(params.State, s.State)
	assert.NotEmpty(s.CodeVerifier)
	// validation alone neither exchanges nor consumes the attempt
	assert.Empty(tp.TokenRequests())
	_, ok := store.value("sid", KeyState)
	assert.True(ok)
}

func TestProvider_CompleteLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := newTestStore()
		p, err := NewProvider(tp.Config(t, WithPostLogoutRedirectURL("https://example.com/")), store)
		require.NoError(err)
		defer p.Done()

		_, err = p.Callback(ctx, "sid", testLogin(t, p, tp, "sid"))
		require.NoError(err)
		target, err := p.PrepareLogoutRedirect(ctx, "sid")
		require.NoError(err)

		returned := tp.Authorize(t, target.URL())
		require.NoError(p.CompleteLogout(ctx, "sid", returned.Get("state")))
		_, ok := store.value("sid", KeyLogoutState)
		assert.False(ok)

		logouts := tp.LogoutRequests()
		require.Len(logouts, 1)
		assert.NotEmpty(logouts[0].Get("id_token_hint"))

		// a second completion has nothing to match
		err = p.CompleteLogout(ctx, "sid", returned.Get("state"))
		assert.ErrorIs(err, ErrStateMismatch)
	})
	t.Run("wrong-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store := newTestStore()
		p := testNewProvider(t, tp, store)
		require.NoError(store.Put(ctx, "sid", KeyLogoutState, "expected"))
		err := p.CompleteLogout(ctx, "sid", "forged")
		assert.ErrorIs(err, ErrStateMismatch)
		assert.Equal(KindCallbackRejected, ErrorKind(err))
		_, ok := store.value("sid", KeyLogoutState)
		assert.False(ok)
	})
	t.Run("empty-session-id", func(t *testing.T) {
		p := testNewProvider(t, tp, newTestStore())
		assert.ErrorIs(t, p.CompleteLogout(ctx, "", "s"), ErrInvalidParameter)
	})
}

func TestProvider_Introspect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	store := newTestStore()
	clock := newTestClock()
	p := testNewProvider(t, tp, store, WithNow(clock.Now))

	v, err := p.Introspect(ctx, "sid")
	require.NoError(err)
	assert.Equal(&SessionView{SessionID: "sid", FlowState: FlowNone}, v)

	params := testLogin(t, p, tp, "sid")
	v, err = p.Introspect(ctx, "sid")
	require.NoError(err)
	assert.True(v.PendingLogin)
	assert.False(v.LoginExpired)
	assert.Equal(FlowRedirectIssued, v.FlowState)
	assert.Equal(clock.Now().Add(DefaultSessionTTL).Format(time.RFC3339), v.LoginExpiresAt)

	_, err = p.Callback(ctx, "sid", params)
	require.NoError(err)
	v, err = p.Introspect(ctx, "sid")
	require.NoError(err)
	assert.True(v.Authenticated)
	assert.True(v.HasIdToken)
	assert.False(v.PendingLogin)
	assert.Equal(FlowAuthenticated, v.FlowState)

	_, err = p.Introspect(ctx, "")
	assert.ErrorIs(err, ErrInvalidParameter)

	store.failGet = true
	_, err = p.Introspect(ctx, "sid")
	assert.ErrorIs(err, ErrSessionStore)
}
