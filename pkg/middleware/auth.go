package middleware

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
)

var (
	// ErrMissingAuthorization is returned when no Authorization header is present.
	ErrMissingAuthorization = errors.New("missing Authorization header")
	// ErrMalformedAuthorization is returned when the header is not a bearer token.
	ErrMalformedAuthorization = errors.New("invalid Authorization header format")
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}
	m := bearerPattern.FindStringSubmatch(header)
	if m == nil {
		return "", ErrMalformedAuthorization
	}
	token := strings.TrimSpace(m[1])
	if token == "" {
		return "", ErrMalformedAuthorization
	}
	return token, nil
}

type contextKeyType string

const principalKey contextKeyType = "principal"

// principal is a mutable slot installed by the outermost middleware so that
// authentication deeper in the chain can report who the caller was back to
// the access log.
type principal struct {
	userID string
}

func withPrincipal(ctx context.Context) (context.Context, *principal) {
	if p, ok := ctx.Value(principalKey).(*principal); ok {
		return ctx, p
	}
	p := &principal{}
	return context.WithValue(ctx, principalKey, p), p
}

// SetUserID records the authenticated user for the current request. It is a
// no-op when no access-logging middleware is installed.
func SetUserID(ctx context.Context, userID string) {
	if p, ok := ctx.Value(principalKey).(*principal); ok {
		p.userID = userID
	}
}

// UserIDFromContext returns the user recorded by SetUserID, if any.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey).(*principal); ok {
		return p.userID
	}
	return ""
}
