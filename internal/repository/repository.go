package repository

import (
	"context"
	"time"

	"github.com/tejasdc/starter-stack/internal/domain"
)

// UserRepository defines the interface for identity persistence operations.
type UserRepository interface {
	// Create inserts a new user. A duplicate email yields a CONFLICT AppError.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// APIKeyRepository defines the interface for credential persistence operations.
type APIKeyRepository interface {
	// Create inserts a new active key.
	Create(ctx context.Context, key *domain.APIKey) error

	// FindActiveByHash returns the unrevoked key with the given hash together
	// with its owner. Unknown and revoked keys both yield apperrors.ErrNotFound.
	FindActiveByHash(ctx context.Context, hash string) (*domain.APIKey, *domain.User, error)

	// TouchLastUsed stamps last_used_at on an active key. Revoked or missing
	// keys are silently ignored.
	TouchLastUsed(ctx context.Context, id string) error

	// Revoke revokes an active key owned by userID and returns it. Missing,
	// foreign and already revoked keys all yield a NOT_FOUND AppError.
	Revoke(ctx context.Context, id, userID string) (*domain.APIKey, error)

	// ListActiveByUser returns the user's active keys, newest first, starting
	// after opts.After and capped at opts.Limit.
	ListActiveByUser(ctx context.Context, userID string, opts ListOptions) ([]domain.APIKey, error)
}

// KeyCursor is the position of a key in (created_at DESC, id DESC) order.
type KeyCursor struct {
	CreatedAt time.Time
	ID        string
}

// ListOptions bounds a key listing. A nil After starts from the newest key; a
// zero Limit returns every remaining key.
type ListOptions struct {
	After *KeyCursor
	Limit int
}

// Repositories groups the repositories that share a transaction.
type Repositories struct {
	Users   UserRepository
	APIKeys APIKeyRepository
}

// TxRunner runs fn with repositories bound to a single transaction. The
// transaction commits when fn returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(repos Repositories) error) error
}
