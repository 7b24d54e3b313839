package auth

import "context"

type contextKey struct{}

// WithIdentity stores the verified identity in the request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity placed in the context by the auth
// middleware. The second return is false on unauthenticated contexts.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
