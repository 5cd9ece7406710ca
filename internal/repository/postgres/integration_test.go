package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tejasdc/starter-stack/internal/apikey"
	"github.com/tejasdc/starter-stack/internal/domain"
	"github.com/tejasdc/starter-stack/internal/repository"
	"github.com/tejasdc/starter-stack/migrations"
	"github.com/tejasdc/starter-stack/pkg/database"
	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
	"github.com/tejasdc/starter-stack/pkg/logger"
)

// setupTestDB starts a PostgreSQL container, applies migrations and returns a
// pool. Skipped under -short, with SKIP_INTEGRATION=true, or when no container
// runtime is reachable.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in -short mode")
	}
	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("starter_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := database.DefaultPostgresConfig()
	cfg.URL = connStr
	cfg.MaxConns = 5
	cfg.MinConns = 1

	pool, err := database.NewPostgresPool(ctx, &cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(ctx, pool, migrations.FS, logger.Discard()))
	return pool
}

func newIssuedKey(t *testing.T, userID, label string) (*domain.APIKey, string) {
	t.Helper()
	k, err := apikey.Issue()
	require.NoError(t, err)
	return &domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Label:     label,
		KeyHash:   k.Hash,
		KeyPrefix: k.Prefix,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}, k.Plaintext
}

func TestIntegration_APIKeyLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(pool)
	keys := NewAPIKeyRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	alice := &domain.User{ID: uuid.NewString(), Name: "Alice", Email: "alice@example.com", CreatedAt: now, UpdatedAt: now}
	bob := &domain.User{ID: uuid.NewString(), Name: "Bob", Email: "bob@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, users.Create(ctx, alice))
	require.NoError(t, users.Create(ctx, bob))

	dup := *alice
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, users.Create(ctx, &dup), apperrors.ErrConflict)

	key, plaintext := newIssuedKey(t, alice.ID, "default")
	require.NoError(t, keys.Create(ctx, key))

	gotKey, gotUser, err := keys.FindActiveByHash(ctx, apikey.Hash(plaintext))
	require.NoError(t, err)
	assert.Equal(t, key.ID, gotKey.ID)
	assert.Equal(t, alice.Email, gotUser.Email)
	assert.Nil(t, gotKey.LastUsedAt)

	require.NoError(t, keys.TouchLastUsed(ctx, key.ID))
	gotKey, _, err = keys.FindActiveByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.NotNil(t, gotKey.LastUsedAt)

	// Another identity cannot revoke, and learns nothing about existence.
	_, err = keys.Revoke(ctx, key.ID, bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	revoked, err := keys.Revoke(ctx, key.ID, alice.ID)
	require.NoError(t, err)
	assert.NotNil(t, revoked.RevokedAt)

	_, err = keys.Revoke(ctx, key.ID, alice.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, _, err = keys.FindActiveByHash(ctx, key.KeyHash)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	list, err := keys.ListActiveByUser(ctx, alice.ID, repository.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = keys.Revoke(ctx, "{"+key.ID+"}", alice.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIntegration_ListActiveByUserPages(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(pool)
	keys := NewAPIKeyRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	dave := &domain.User{ID: uuid.NewString(), Name: "Dave", Email: "dave@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, users.Create(ctx, dave))

	// Two keys share a timestamp so the id tiebreak is exercised.
	for i, offset := range []time.Duration{0, 0, -time.Minute} {
		k, _ := newIssuedKey(t, dave.ID, "k")
		k.CreatedAt = now.Add(offset)
		k.Label = string(rune('a' + i))
		require.NoError(t, keys.Create(ctx, k))
	}

	all, err := keys.ListActiveByUser(ctx, dave.ID, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	first, err := keys.ListActiveByUser(ctx, dave.ID, repository.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)

	last := first[1]
	rest, err := keys.ListActiveByUser(ctx, dave.ID, repository.ListOptions{
		After: &repository.KeyCursor{CreatedAt: last.CreatedAt, ID: last.ID},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, all[2].ID, rest[0].ID)
}

func TestIntegration_TxRunnerRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	u := &domain.User{ID: uuid.NewString(), Name: "Carol", Email: "carol@example.com", CreatedAt: now, UpdatedAt: now}

	err := NewTxRunner(pool).InTx(ctx, func(repos repository.Repositories) error {
		require.NoError(t, repos.Users.Create(ctx, u))
		// Unknown owner violates the foreign key.
		k, _ := newIssuedKey(t, uuid.NewString(), "default")
		return repos.APIKeys.Create(ctx, k)
	})
	require.Error(t, err)

	_, err = NewUserRepository(pool).GetByEmail(ctx, u.Email)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
