package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/oktaauth/oidc"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore returns a Store backed by an in-process redis server.
func testStore(t *testing.T, opt ...oidc.Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	s, err := NewStore(c, opt...)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	return s, mr
}

func TestNewStore(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s, err := NewStore(nil)
	require.Error(err)
	assert.Nil(s)
	assert.ErrorIs(err, oidc.ErrNilParameter)

	s, err = NewStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), WithTTL(time.Minute), WithKeyPrefix("app"))
	require.NoError(err)
	assert.Equal(time.Minute, s.ttl)
	assert.Equal("app:sid", s.key("sid"))

	s, err = NewStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	require.NoError(err)
	assert.Equal(DefaultTTL, s.ttl)
	assert.Equal(DefaultKeyPrefix+":sid", s.key("sid"))
}

func TestStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	s, mr := testStore(t, WithKeyPrefix("test"))

	_, ok, err := s.Get(ctx, "sid", oidc.KeyState)
	require.NoError(err)
	assert.False(ok)

	require.NoError(s.PutAll(ctx, "sid", map[string]string{
		oidc.KeyState:        "state",
		oidc.KeyCodeVerifier: "verifier",
	}))
	v, ok, err := s.Get(ctx, "sid", oidc.KeyState)
	require.NoError(err)
	assert.True(ok)
	assert.Equal("state", v)

	// one hash per session, expiry set with the write
	assert.Equal("state", mr.HGet("test:sid", oidc.KeyState))
	assert.Equal(DefaultTTL, mr.TTL("test:sid"))

	require.NoError(s.Put(ctx, "sid", oidc.KeyExpiresAt, "later"))
	v, ok, err = s.Get(ctx, "sid", oidc.KeyExpiresAt)
	require.NoError(err)
	assert.True(ok)
	assert.Equal("later", v)

	require.NoError(s.Clear(ctx, "sid", oidc.KeyState))
	_, ok, err = s.Get(ctx, "sid", oidc.KeyState)
	require.NoError(err)
	assert.False(ok)
	v, ok, err = s.Get(ctx, "sid", oidc.KeyCodeVerifier)
	require.NoError(err)
	assert.True(ok)
	assert.Equal("verifier", v)

	require.NoError(s.Delete(ctx, "sid"))
	_, ok, err = s.Get(ctx, "sid", oidc.KeyCodeVerifier)
	require.NoError(err)
	assert.False(ok)
	assert.False(mr.Exists("test:sid"))

	assert.ErrorIs(s.Put(ctx, "", oidc.KeyState, "x"), oidc.ErrInvalidParameter)
	require.NoError(s.PutAll(ctx, "sid", nil))
	assert.False(mr.Exists("test:sid"))
}

func TestStore_Isolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	s, _ := testStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("sid-%d", i)
			assert.NoError(s.PutAll(ctx, sid, map[string]string{
				oidc.KeyState:        "state-" + sid,
				oidc.KeyCodeVerifier: "verifier-" + sid,
			}))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		sid := fmt.Sprintf("sid-%d", i)
		v, ok, err := s.Get(ctx, sid, oidc.KeyState)
		require.NoError(err)
		require.True(ok)
		assert.Equal("state-"+sid, v)
	}
	require.NoError(s.Clear(ctx, "sid-0", oidc.KeyState))
	_, ok, err := s.Get(ctx, "sid-1", oidc.KeyState)
	require.NoError(err)
	assert.True(ok)
}

func TestStore_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	s, mr := testStore(t, WithTTL(time.Minute))

	require.NoError(s.Put(ctx, "sid", oidc.KeyState, "state"))
	mr.FastForward(30 * time.Second)
	// writes refresh the expiry
	require.NoError(s.Put(ctx, "sid", oidc.KeyCodeVerifier, "verifier"))
	assert.Equal(time.Minute, mr.TTL(s.key("sid")))

	mr.FastForward(time.Minute + time.Second)
	_, ok, err := s.Get(ctx, "sid", oidc.KeyState)
	require.NoError(err)
	assert.False(ok)
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert := assert.New(t)
	s, mr := testStore(t)

	mr.SetError("LOADING redis is loading")
	_, ok, err := s.Get(ctx, "sid", oidc.KeyState)
	assert.Error(err)
	assert.False(ok)
	assert.Error(s.Put(ctx, "sid", oidc.KeyState, "state"))
	assert.Error(s.Clear(ctx, "sid", oidc.KeyState))
	assert.Error(s.Delete(ctx, "sid"))
	assert.Error(s.Ping(ctx))

	mr.SetError("")
	assert.NoError(s.Ping(ctx))
}

func TestStore_Flow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	s, _ := testStore(t)
	tp := oidc.StartTestProvider(t)
	p, err := oidc.NewProvider(tp.Config(t), s)
	require.NoError(err)
	t.Cleanup(p.Done)

	_, target, err := p.PrepareAuthorizationRedirect(ctx, "sid")
	require.NoError(err)
	params := oidc.CallbackParamsFromQuery(tp.Authorize(t, target.URL()))

	result, err := p.Callback(ctx, "sid", params)
	require.NoError(err)
	assert.Equal(oidc.FlowAuthenticated, result.State)

	for _, k := range []string{oidc.KeyState, oidc.KeyCodeVerifier, oidc.KeyExpiresAt} {
		_, ok, err := s.Get(ctx, "sid", k)
		require.NoError(err)
		assert.Falsef(ok, "%s should have been cleared", k)
	}
	at, ok, err := s.Get(ctx, "sid", oidc.KeyAccessToken)
	require.NoError(err)
	assert.True(ok)
	assert.Equal("test-access-token", at)
}
