package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tejasdc/starter-stack/internal/repository"
	"github.com/tejasdc/starter-stack/pkg/database"
)

// TxRunner implements repository.TxRunner on top of a pool.
type TxRunner struct {
	db database.TxBeginner
}

// NewTxRunner creates a TxRunner that begins transactions on db.
func NewTxRunner(db database.TxBeginner) *TxRunner {
	return &TxRunner{db: db}
}

// InTx runs fn with repositories bound to one transaction.
func (t *TxRunner) InTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	return database.WithTx(ctx, t.db, func(tx pgx.Tx) error {
		return fn(repository.Repositories{
			Users:   NewUserRepository(tx),
			APIKeys: NewAPIKeyRepository(tx),
		})
	})
}

var (
	_ repository.UserRepository   = (*UserRepository)(nil)
	_ repository.APIKeyRepository = (*APIKeyRepository)(nil)
	_ repository.TxRunner         = (*TxRunner)(nil)
)
