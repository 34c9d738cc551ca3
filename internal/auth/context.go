// ABOUTME: Context helpers for carrying the authenticated operator identity
// ABOUTME: Used by HTTP middleware and handlers that record audit actors

package auth

import "context"

type contextKey string

const identityKey contextKey = "warden-operator"

// WithIdentity returns a context carrying the authenticated operator name.
func WithIdentity(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, identityKey, subject)
}

// IdentityFromContext extracts the operator name set by the auth middleware.
// Returns empty string when the request was unauthenticated.
func IdentityFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(identityKey).(string)
	return subject
}
