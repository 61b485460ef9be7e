package identity

import "context"

type ctxIdentityKey struct{}

// WithIdentity returns a child context carrying id. Each request derives its
// own context, so concurrent requests never observe each other's identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id.clone())
}

// FromContext returns the identity established for this request. ok is false
// outside a request (background jobs, startup code).
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(ctxIdentityKey{}).(Identity)
	if !ok {
		return Identity{}, false
	}
	return id.clone(), true
}

// Run executes fn with id established as the ambient identity. Goroutines
// started by fn with the passed context see the same identity.
func Run(ctx context.Context, id Identity, fn func(ctx context.Context) error) error {
	return fn(WithIdentity(ctx, id))
}
