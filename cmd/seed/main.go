// Command seed creates a demo identity with one API key and prints the key.
// It is idempotent: an existing demo identity is left untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tejasdc/starter-stack/internal/config"
	"github.com/tejasdc/starter-stack/internal/event"
	"github.com/tejasdc/starter-stack/internal/repository/postgres"
	"github.com/tejasdc/starter-stack/internal/service"
	"github.com/tejasdc/starter-stack/migrations"
	"github.com/tejasdc/starter-stack/pkg/database"
	"github.com/tejasdc/starter-stack/pkg/detach"
	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
	"github.com/tejasdc/starter-stack/pkg/logger"
)

const (
	demoName  = "Demo User"
	demoEmail = "demo@example.com"
	seedLabel = "seed-key"
)

func main() {
	if err := run(); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("starter-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	users := postgres.NewUserRepository(pool)
	existing, err := users.GetByEmail(ctx, demoEmail)
	switch {
	case err == nil:
		log.Info("demo user already exists, nothing to do",
			slog.String("user_id", existing.ID),
			slog.String("email", existing.Email),
		)
		return nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return fmt.Errorf("look up demo user: %w", err)
	}

	tasks := detach.NewRunner(log, cfg.TouchTimeout)
	defer func() {
		_ = tasks.Shutdown(ctx)
	}()

	svc := service.NewAuthService(users, postgres.NewAPIKeyRepository(pool), postgres.NewTxRunner(pool), event.Noop{}, tasks, log)
	user, plaintext, err := svc.Register(ctx, service.RegisterInput{
		Name:  demoName,
		Email: demoEmail,
		Label: seedLabel,
	})
	if err != nil {
		return fmt.Errorf("register demo user: %w", err)
	}

	// The plaintext is printed once and never stored.
	fmt.Printf("user:    %s\nemail:   %s\napi key: %s\n", user.ID, user.Email, plaintext)
	return nil
}
