package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tejasdc/starter-stack/internal/domain"
	"github.com/tejasdc/starter-stack/internal/repository"
	"github.com/tejasdc/starter-stack/pkg/database"
	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
)

// APIKeyRepository implements repository.APIKeyRepository using PostgreSQL.
type APIKeyRepository struct {
	pool database.DBTX
	now  func() time.Time
}

// NewAPIKeyRepository creates a new PostgreSQL-backed API key repository.
func NewAPIKeyRepository(pool database.DBTX) *APIKeyRepository {
	return &APIKeyRepository{pool: pool, now: time.Now}
}

const insertAPIKeyQuery = `
		INSERT INTO api_keys (id, user_id, label, key_hash, key_prefix, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

// Create inserts a new active key.
func (r *APIKeyRepository) Create(ctx context.Context, k *domain.APIKey) (err error) {
	ctx, end := database.TraceQuery(ctx, "api_keys", "Create", insertAPIKeyQuery)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, insertAPIKeyQuery,
		k.ID,
		k.UserID,
		k.Label,
		k.KeyHash,
		k.KeyPrefix,
		k.CreatedAt,
	)
	if err != nil {
		if apperrors.IsUniqueViolation(err) {
			return apperrors.Conflict("api key already exists", nil)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

const findActiveByHashQuery = `
		SELECT k.id, k.user_id, k.label, k.key_hash, k.key_prefix, k.last_used_at, k.revoked_at, k.created_at,
		       u.id, u.name, u.email, u.created_at, u.updated_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.key_hash = $1 AND k.revoked_at IS NULL`

// FindActiveByHash returns the unrevoked key with the given hash and its owner.
func (r *APIKeyRepository) FindActiveByHash(ctx context.Context, hash string) (_ *domain.APIKey, _ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, "api_keys", "FindActiveByHash", findActiveByHashQuery)
	defer func() { end(err) }()

	var (
		k domain.APIKey
		u domain.User
	)
	err = r.pool.QueryRow(ctx, findActiveByHashQuery, hash).Scan(
		&k.ID,
		&k.UserID,
		&k.Label,
		&k.KeyHash,
		&k.KeyPrefix,
		&k.LastUsedAt,
		&k.RevokedAt,
		&k.CreatedAt,
		&u.ID,
		&u.Name,
		&u.Email,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, &u, nil
}

const touchLastUsedQuery = `UPDATE api_keys SET last_used_at = $1 WHERE id = $2 AND revoked_at IS NULL`

// TouchLastUsed stamps last_used_at. Zero rows affected is not an error since
// the key may have been revoked after the request was authenticated.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, "api_keys", "TouchLastUsed", touchLastUsedQuery)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, touchLastUsedQuery, r.now().UTC(), id); err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	return nil
}

const revokeAPIKeyQuery = `
		UPDATE api_keys
		SET revoked_at = $1
		WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL
		RETURNING id, user_id, label, key_hash, key_prefix, last_used_at, revoked_at, created_at`

// Revoke revokes an active key owned by userID in a single statement.
// Missing, foreign and already revoked keys are indistinguishable to the
// caller.
func (r *APIKeyRepository) Revoke(ctx context.Context, id, userID string) (_ *domain.APIKey, err error) {
	if !validUUID(id) {
		return nil, apperrors.NotFound("api key", id)
	}

	ctx, end := database.TraceQuery(ctx, "api_keys", "Revoke", revokeAPIKeyQuery)
	defer func() { end(err) }()

	var k domain.APIKey
	err = r.pool.QueryRow(ctx, revokeAPIKeyQuery, r.now().UTC(), id, userID).Scan(
		&k.ID,
		&k.UserID,
		&k.Label,
		&k.KeyHash,
		&k.KeyPrefix,
		&k.LastUsedAt,
		&k.RevokedAt,
		&k.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("api key", id)
		}
		return nil, fmt.Errorf("revoke api key: %w", err)
	}
	return &k, nil
}

const listActiveByUserQuery = `
		SELECT id, user_id, label, key_hash, key_prefix, last_used_at, revoked_at, created_at
		FROM api_keys
		WHERE user_id = $1 AND revoked_at IS NULL`

// ListActiveByUser returns the user's active keys, newest first. The cursor
// and limit are applied in SQL so api_keys_user_id_idx serves each page.
func (r *APIKeyRepository) ListActiveByUser(ctx context.Context, userID string, opts repository.ListOptions) (_ []domain.APIKey, err error) {
	query := listActiveByUserQuery
	args := []any{userID}
	if opts.After != nil {
		if !validUUID(opts.After.ID) {
			return nil, apperrors.BadRequest("invalid cursor", nil)
		}
		args = append(args, opts.After.CreatedAt, opts.After.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d::timestamptz, $%d::uuid)", len(args)-1, len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	ctx, end := database.TraceQuery(ctx, "api_keys", "ListActiveByUser", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []domain.APIKey{}
	for rows.Next() {
		var k domain.APIKey
		if err = rows.Scan(
			&k.ID,
			&k.UserID,
			&k.Label,
			&k.KeyHash,
			&k.KeyPrefix,
			&k.LastUsedAt,
			&k.RevokedAt,
			&k.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan api key row: %w", err)
		}
		keys = append(keys, k)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api key rows: %w", err)
	}
	return keys, nil
}

// validUUID reports whether id is in the canonical 36-character form. Braced
// and urn forms parse with uuid.Parse but cannot be encoded for a uuid column.
func validUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
