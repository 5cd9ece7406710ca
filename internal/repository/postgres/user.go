package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tejasdc/starter-stack/internal/domain"
	"github.com/tejasdc/starter-stack/pkg/database"
	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	pool database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(pool database.DBTX) *UserRepository {
	return &UserRepository{pool: pool}
}

const insertUserQuery = `
		INSERT INTO users (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, "users", "Create", insertUserQuery)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, insertUserQuery,
		u.ID,
		u.Name,
		u.Email,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if apperrors.IsUniqueViolation(err) {
			return apperrors.Conflict("email already registered", nil)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if !validUUID(id) {
		return nil, apperrors.NotFound("user", id)
	}

	query := `
		SELECT id, name, email, created_at, updated_at
		FROM users
		WHERE id = $1`
	u, err := r.scanUser(ctx, "GetByID", query, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NotFound("user", id)
	}
	return u, err
}

// GetByEmail retrieves a user by their email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, name, email, created_at, updated_at
		FROM users
		WHERE email = $1`
	return r.scanUser(ctx, "GetByEmail", query, email)
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, op, query string, args ...any) (_ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, "users", op, query)
	defer func() { end(err) }()

	var u domain.User
	err = r.pool.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
