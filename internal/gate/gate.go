// Package gate authenticates /api requests by API key.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/tejasdc/starter-stack/internal/domain"
	"github.com/tejasdc/starter-stack/pkg/detach"
	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
	"github.com/tejasdc/starter-stack/pkg/httputil"
	"github.com/tejasdc/starter-stack/pkg/logger"
	"github.com/tejasdc/starter-stack/pkg/middleware"
	"github.com/tejasdc/starter-stack/pkg/ratelimit"
)

// DefaultPublicPaths are reachable without credentials. Matching is exact.
var DefaultPublicPaths = []string{"/api/health", "/api/auth/register"}

// Authenticator resolves presented secrets and records their use.
type Authenticator interface {
	Validate(ctx context.Context, plaintext string) (*domain.AuthContext, error)
	TouchLastUsed(ctx context.Context, keyID string) error
}

// Gate is the authentication middleware for the /api sub-router.
type Gate struct {
	auth    Authenticator
	tasks   *detach.Runner
	limiter ratelimit.Limiter
	public  map[string]struct{}
	logger  *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithRateLimiter limits authenticated requests per API key.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(g *Gate) { g.limiter = l }
}

// WithPublicPaths replaces the public allow-list.
func WithPublicPaths(paths ...string) Option {
	return func(g *Gate) {
		g.public = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			g.public[p] = struct{}{}
		}
	}
}

// New creates a Gate. Usage timestamps are written on tasks.
func New(auth Authenticator, tasks *detach.Runner, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{auth: auth, tasks: tasks, logger: logger}
	WithPublicPaths(DefaultPublicPaths...)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsPublic reports whether path bypasses authentication.
func (g *Gate) IsPublic(path string) bool {
	_, ok := g.public[path]
	return ok
}

// Middleware authenticates every non-public request and stores the caller in
// the request context. Failures are written as UNAUTHORIZED envelopes.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.IsPublic(r.URL.Path) {
			middleware.RecordAuthOutcome(middleware.AuthOutcomePublic)
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()

		token, err := middleware.BearerToken(r)
		if err != nil {
			outcome := middleware.AuthOutcomeMalformed
			if errors.Is(err, middleware.ErrMissingAuthorization) {
				outcome = middleware.AuthOutcomeMissing
			}
			g.reject(w, r, outcome, err.Error())
			return
		}

		ac, err := g.auth.Validate(ctx, token)
		if err != nil {
			middleware.RecordAuthOutcome(middleware.AuthOutcomeError)
			httputil.WriteError(w, r, err, g.logger)
			return
		}
		if ac == nil {
			g.reject(w, r, middleware.AuthOutcomeInvalid, "invalid API key")
			return
		}

		userID := ac.User.ID
		ctx = domain.WithAuth(ctx, ac)
		middleware.SetUserID(ctx, userID)
		ctx = logger.WithUserID(ctx, userID)
		ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("user_id", userID)))
		r = r.WithContext(ctx)

		keyID := ac.APIKey.ID
		if !g.allow(w, r, keyID) {
			return
		}

		// Only admitted requests count as a use of the key.
		g.tasks.Go(ctx, "touch_last_used", func(ctx context.Context) error {
			return g.auth.TouchLastUsed(ctx, keyID)
		})

		middleware.RecordAuthOutcome(middleware.AuthOutcomeSuccess)
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, outcome, message string) {
	middleware.RecordAuthOutcome(outcome)
	w.Header().Set("WWW-Authenticate", "Bearer")
	httputil.WriteError(w, r, apperrors.Unauthorized(message), g.logger)
}

// RateLimitDetails is attached to RATE_LIMITED errors.
type RateLimitDetails struct {
	Limit             int `json:"limit"`
	RetryAfterSeconds int `json:"retryAfterSeconds"`
}

// allow applies the per-key rate limit. Limiter failures let the request
// through.
func (g *Gate) allow(w http.ResponseWriter, r *http.Request, keyID string) bool {
	if g.limiter == nil {
		return true
	}

	d, err := g.limiter.Allow(r.Context(), keyID)
	if err != nil {
		logger.FromContext(r.Context()).WarnContext(r.Context(), "rate limiter unavailable, allowing request",
			slog.String("error", err.Error()),
		)
		return true
	}
	if d.Limit <= 0 {
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return true
	}

	retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	middleware.RecordAuthOutcome(middleware.AuthOutcomeRateLimited)
	httputil.WriteError(w, r, apperrors.RateLimited("rate limit exceeded", RateLimitDetails{
		Limit:             d.Limit,
		RetryAfterSeconds: retryAfter,
	}), g.logger)
	return false
}
