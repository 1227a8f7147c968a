// Package resolver maps a logical model reference to a concrete backend
// binding.
package resolver

import (
	"context"
	"fmt"

	"modelgate/internal/core"
)

// Ref carries up to three identifiers for a model. Precedence is strict:
// ID > Key > Name. The first identifier present is authoritative; lower
// precedence identifiers are ignored even when resolution by the higher one
// fails, so callers never fall back silently.
type Ref struct {
	ID   string
	Key  string
	Name string
}

// Primary returns the authoritative identifier and its field name.
func (r Ref) Primary() (field, value string) {
	switch {
	case r.ID != "":
		return "id", r.ID
	case r.Key != "":
		return "key", r.Key
	default:
		return "name", r.Name
	}
}

// String returns the authoritative identifier for error messages.
func (r Ref) String() string {
	_, v := r.Primary()
	return v
}

// BindingStore is the persistent configuration store boundary. A miss is
// (nil, nil); errors are store failures only.
type BindingStore interface {
	GetByID(ctx context.Context, id string) (*core.ModelBinding, error)
	GetByKey(ctx context.Context, key string) (*core.ModelBinding, error)
	GetByName(ctx context.Context, name string) (*core.ModelBinding, error)
}

// Resolver looks up bindings by reference. Bindings are loaded fresh per
// request so configuration changes take effect immediately.
type Resolver struct {
	store BindingStore
}

// New creates a resolver over the given store.
func New(store BindingStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the binding for ref, or a terminal ModelNotConfigured
// error. The error is distinct from upstream/network errors so the caller
// can surface it as a client-visible 4xx with no upstream call made.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (*core.ModelBinding, error) {
	field, value := ref.Primary()
	if value == "" {
		return nil, core.NewInvalidRequestError("model reference is required", nil)
	}

	var (
		binding *core.ModelBinding
		err     error
	)
	switch field {
	case "id":
		binding, err = r.store.GetByID(ctx, value)
	case "key":
		binding, err = r.store.GetByKey(ctx, value)
	default:
		binding, err = r.store.GetByName(ctx, value)
	}
	if err != nil {
		return nil, fmt.Errorf("binding store lookup by %s: %w", field, err)
	}
	if binding == nil {
		return nil, core.NewModelNotConfiguredError(value)
	}
	return binding, nil
}
