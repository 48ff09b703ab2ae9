// Package memory provides an in-process oidc.SessionStore. Sessions expire
// after a period of inactivity. It is suitable for a single instance of a web
// application; use the redis store when running several.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/oktaauth/oidc"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = time.Hour

// Store is an in-memory oidc.SessionStore. Every write and read extends the
// session's lifetime by the store's TTL.
type Store struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, map[string]string]
	ttl   time.Duration
}

var (
	_ oidc.SessionStore = (*Store)(nil)
	_ oidc.BatchStore   = (*Store)(nil)
)

// NewStore creates a Store and starts its expiry loop. Close must be called
// to stop it.
// Supported options: WithTTL
func NewStore(opt ...oidc.Option) *Store {
	opts := getOpts(opt...)
	c := ttlcache.New[string, map[string]string](
		ttlcache.WithTTL[string, map[string]string](opts.withTTL),
	)
	go c.Start()
	return &Store{cache: c, ttl: opts.withTTL}
}

// Put implements oidc.SessionStore.
func (s *Store) Put(ctx context.Context, sessionID, key, value string) error {
	return s.PutAll(ctx, sessionID, map[string]string{key: value})
}

// PutAll implements oidc.BatchStore. The values become visible together.
func (s *Store) PutAll(_ context.Context, sessionID string, values map[string]string) error {
	const op = "memory.(Store).PutAll"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, oidc.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := map[string]string{}
	if item := s.cache.Get(sessionID); item != nil {
		for k, v := range item.Value() {
			next[k] = v
		}
	}
	for k, v := range values {
		next[k] = v
	}
	s.cache.Set(sessionID, next, ttlcache.DefaultTTL)
	return nil
}

// Get implements oidc.SessionStore.
func (s *Store) Get(_ context.Context, sessionID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.cache.Get(sessionID)
	if item == nil {
		return "", false, nil
	}
	v, ok := item.Value()[key]
	return v, ok, nil
}

// Clear implements oidc.SessionStore.
func (s *Store) Clear(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.cache.Get(sessionID)
	if item == nil {
		return nil
	}
	if _, ok := item.Value()[key]; !ok {
		return nil
	}
	next := make(map[string]string, len(item.Value()))
	for k, v := range item.Value() {
		if k != key {
			next[k] = v
		}
	}
	s.cache.Set(sessionID, next, ttlcache.DefaultTTL)
	return nil
}

// Delete removes the whole session.
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.cache.Delete(sessionID)
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Close stops the expiry loop.
func (s *Store) Close() error {
	s.cache.Stop()
	return nil
}

// options is the set of available options for Store
type options struct {
	withTTL time.Duration
}

func getDefaults() options {
	return options{withTTL: DefaultTTL}
}

func getOpts(opt ...oidc.Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithTTL sets how long an untouched session is kept.
func WithTTL(ttl time.Duration) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && ttl > 0 {
			o.withTTL = ttl
		}
	}
}
