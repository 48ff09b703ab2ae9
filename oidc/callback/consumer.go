package callback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/oktaauth/oidc"
)

var (
	// ErrUnknownConsumer is returned when a configured consumer name has not
	// been registered.
	ErrUnknownConsumer = errors.New("unknown userinfo consumer")

	// ErrDuplicateConsumer is returned when a name is registered twice.
	ErrDuplicateConsumer = errors.New("userinfo consumer already registered")
)

// UserinfoConsumer receives the userinfo claims of a newly authenticated
// session. It is where the host application creates or updates its user
// record and marks the session logged in. A returned error fails the
// callback.
type UserinfoConsumer interface {
	ConsumeUserinfo(ctx context.Context, sessionID string, info oidc.UserInfo) error
}

// UserinfoConsumerFunc adapts a function to UserinfoConsumer.
type UserinfoConsumerFunc func(ctx context.Context, sessionID string, info oidc.UserInfo) error

// ConsumeUserinfo calls f.
func (f UserinfoConsumerFunc) ConsumeUserinfo(ctx context.Context, sessionID string, info oidc.UserInfo) error {
	return f(ctx, sessionID, info)
}

// Registry maps names to UserinfoConsumers, so a consumer can be selected by
// configuration (AFTER_AUTHENTICATION_HANDLER). Registries are built by the
// host application at startup; there is no package level registry.
type Registry struct {
	mu        sync.RWMutex
	consumers map[string]UserinfoConsumer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{consumers: map[string]UserinfoConsumer{}}
}

// Register adds a consumer under name.
func (r *Registry) Register(name string, c UserinfoConsumer) error {
	const op = "Registry.Register"
	switch {
	case name == "":
		return fmt.Errorf("%s: name is empty: %w", op, oidc.ErrInvalidParameter)
	case c == nil:
		return fmt.Errorf("%s: consumer is nil: %w", op, oidc.ErrNilParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.consumers[name]; ok {
		return fmt.Errorf("%s: %q: %w", op, name, ErrDuplicateConsumer)
	}
	r.consumers[name] = c
	return nil
}

// Lookup returns the consumer registered under name. An unregistered name is
// a configuration error.
func (r *Registry) Lookup(name string) (UserinfoConsumer, error) {
	const op = "Registry.Lookup"
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w: %w", op, name, ErrUnknownConsumer, oidc.ErrInvalidConfig)
	}
	return c, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.consumers))
	for n := range r.consumers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
