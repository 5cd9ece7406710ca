package domain

import "context"

// AuthContext is the authenticated caller attached to a request.
type AuthContext struct {
	User   User
	APIKey APIKey
}

type authContextKey struct{}

// WithAuth returns a copy of ctx carrying ac.
func WithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthFromContext returns the AuthContext stored by WithAuth, if any.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return ac, ok && ac != nil
}
