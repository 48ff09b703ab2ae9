// Package redis provides an oidc.SessionStore backed by Redis, for web
// applications running more than one instance. Each session is a hash whose
// expiry is refreshed on every write.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/oktaauth/oidc"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a session is kept after its last write.
	DefaultTTL = time.Hour

	// DefaultKeyPrefix prefixes every session hash key.
	DefaultKeyPrefix = "oktaauth:session"
)

// Store is a Redis oidc.SessionStore.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var (
	_ oidc.SessionStore = (*Store)(nil)
	_ oidc.BatchStore   = (*Store)(nil)
)

// NewStore creates a Store using client.
// Supported options: WithTTL, WithKeyPrefix
func NewStore(client redis.UniversalClient, opt ...oidc.Option) (*Store, error) {
	const op = "redis.NewStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Store{
		client: client,
		prefix: opts.withKeyPrefix,
		ttl:    opts.withTTL,
	}, nil
}

func (s *Store) key(sessionID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, sessionID)
}

// Put implements oidc.SessionStore.
func (s *Store) Put(ctx context.Context, sessionID, key, value string) error {
	return s.PutAll(ctx, sessionID, map[string]string{key: value})
}

// PutAll implements oidc.BatchStore. The fields are written and the expiry
// refreshed in one MULTI/EXEC transaction.
func (s *Store) PutAll(ctx context.Context, sessionID string, values map[string]string) error {
	const op = "redis.(Store).PutAll"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if len(values) == 0 {
		return nil
	}
	k := s.key(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, values)
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get implements oidc.SessionStore.
func (s *Store) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	const op = "redis.(Store).Get"
	v, err := s.client.HGet(ctx, s.key(sessionID), key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, true, nil
}

// Clear implements oidc.SessionStore.
func (s *Store) Clear(ctx context.Context, sessionID, key string) error {
	const op = "redis.(Store).Clear"
	if err := s.client.HDel(ctx, s.key(sessionID), key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete removes the whole session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	const op = "redis.(Store).Delete"
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Ping checks the connection to Redis.
func (s *Store) Ping(ctx context.Context) error {
	const op = "redis.(Store).Ping"
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// options is the set of available options for Store
type options struct {
	withTTL       time.Duration
	withKeyPrefix string
}

func getDefaults() options {
	return options{
		withTTL:       DefaultTTL,
		withKeyPrefix: DefaultKeyPrefix,
	}
}

func getOpts(opt ...oidc.Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithTTL sets how long a session is kept after its last write.
func WithTTL(ttl time.Duration) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && ttl > 0 {
			o.withTTL = ttl
		}
	}
}

// WithKeyPrefix sets the prefix of the session hash keys.
func WithKeyPrefix(prefix string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && prefix != "" {
			o.withKeyPrefix = prefix
		}
	}
}
