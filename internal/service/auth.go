package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tejasdc/starter-stack/internal/apikey"
	"github.com/tejasdc/starter-stack/internal/domain"
	"github.com/tejasdc/starter-stack/internal/event"
	"github.com/tejasdc/starter-stack/internal/repository"
	"github.com/tejasdc/starter-stack/pkg/detach"
	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
	"github.com/tejasdc/starter-stack/pkg/pagination"
)

// AuthService registers identities and issues, validates and revokes their
// API keys.
type AuthService struct {
	users  repository.UserRepository
	keys   repository.APIKeyRepository
	tx     repository.TxRunner
	events event.Publisher
	tasks  *detach.Runner
	logger *slog.Logger

	now   func() time.Time
	issue func() (apikey.Key, error)
}

// NewAuthService creates a new auth service. Events are published on tasks so
// a slow broker never delays a response.
func NewAuthService(
	users repository.UserRepository,
	keys repository.APIKeyRepository,
	tx repository.TxRunner,
	events event.Publisher,
	tasks *detach.Runner,
	logger *slog.Logger,
) *AuthService {
	if events == nil {
		events = event.Noop{}
	}
	return &AuthService{
		users:  users,
		keys:   keys,
		tx:     tx,
		events: events,
		tasks:  tasks,
		logger: logger,
		now:    time.Now,
		issue:  apikey.Issue,
	}
}

// RegisterInput holds the parameters for registering a new identity. Label
// names the first key and defaults to domain.DefaultKeyLabel.
type RegisterInput struct {
	Name  string
	Email string
	Label string
}

// Register creates an identity together with its first key in one
// transaction and returns the key's plaintext. The plaintext is not
// recoverable afterwards.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, string, error) {
	now := s.now().UTC()
	user := &domain.User{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(input.Name),
		Email:     strings.TrimSpace(input.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}

	key, plaintext, err := s.newKey(user.ID, keyLabel(input.Label), now)
	if err != nil {
		return nil, "", err
	}

	err = s.tx.InTx(ctx, func(repos repository.Repositories) error {
		if err := repos.Users.Create(ctx, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := repos.APIKeys.Create(ctx, key); err != nil {
			return fmt.Errorf("create api key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("register: %w", err)
	}

	s.publish(ctx, event.TypeUserRegistered, func(ctx context.Context) error {
		return s.events.PublishUserRegistered(ctx, user)
	})
	s.publish(ctx, event.TypeAPIKeyIssued, func(ctx context.Context) error {
		return s.events.PublishAPIKeyIssued(ctx, key)
	})

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("key_id", key.ID),
		slog.String("key_prefix", key.KeyPrefix),
	)

	return user, plaintext, nil
}

// Validate resolves a presented secret to its owner. Unknown, revoked and
// malformed secrets yield (nil, nil); only infrastructure failures are
// errors.
func (s *AuthService) Validate(ctx context.Context, plaintext string) (*domain.AuthContext, error) {
	if !apikey.LooksValid(plaintext) {
		return nil, nil
	}

	key, user, err := s.keys.FindActiveByHash(ctx, apikey.Hash(plaintext))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}

	return &domain.AuthContext{User: *user, APIKey: *key}, nil
}

// TouchLastUsed stamps the key's last use time.
func (s *AuthService) TouchLastUsed(ctx context.Context, keyID string) error {
	if err := s.keys.TouchLastUsed(ctx, keyID); err != nil {
		return fmt.Errorf("touch last used: %w", err)
	}
	return nil
}

// keyCursor marks the last key of a page in (created_at DESC, id DESC) order.
type keyCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

// ListAPIKeys returns one page of the user's active keys, newest first. One
// extra row is fetched to learn whether another page follows.
func (s *AuthService) ListAPIKeys(ctx context.Context, userID string, params pagination.Params) (pagination.Result[domain.APIKey], error) {
	var page pagination.Result[domain.APIKey]

	limit := params.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	opts := repository.ListOptions{Limit: limit + 1}

	if params.Cursor != "" {
		var c keyCursor
		if err := pagination.DecodeCursor(params.Cursor, &c); err != nil {
			return page, err
		}
		if c.ID == "" || c.CreatedAt.IsZero() {
			return page, apperrors.BadRequest("invalid cursor", nil)
		}
		opts.After = &repository.KeyCursor{CreatedAt: c.CreatedAt, ID: c.ID}
	}

	keys, err := s.keys.ListActiveByUser(ctx, userID, opts)
	if err != nil {
		return page, fmt.Errorf("list api keys: %w", err)
	}

	if len(keys) > limit {
		keys = keys[:limit]
		last := keys[len(keys)-1]
		next, err := pagination.EncodeCursor(keyCursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return page, err
		}
		page.NextCursor = next
	}

	page.Data = keys
	return page, nil
}

func keyLabel(label string) string {
	if label = strings.TrimSpace(label); label == "" {
		return domain.DefaultKeyLabel
	}
	return label
}

// CreateAPIKey issues an additional key for the user and returns its
// plaintext once.
func (s *AuthService) CreateAPIKey(ctx context.Context, userID, label string) (*domain.APIKey, string, error) {
	key, plaintext, err := s.newKey(userID, keyLabel(label), s.now().UTC())
	if err != nil {
		return nil, "", err
	}

	if err := s.keys.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	s.publish(ctx, event.TypeAPIKeyIssued, func(ctx context.Context) error {
		return s.events.PublishAPIKeyIssued(ctx, key)
	})

	s.logger.InfoContext(ctx, "api key issued",
		slog.String("key_id", key.ID),
		slog.String("key_prefix", key.KeyPrefix),
	)

	return key, plaintext, nil
}

// RevokeAPIKey revokes one of the user's active keys. Keys that do not exist,
// belong to someone else or are already revoked all yield NOT_FOUND.
func (s *AuthService) RevokeAPIKey(ctx context.Context, userID, keyID string) (*domain.APIKey, error) {
	key, err := s.keys.Revoke(ctx, keyID, userID)
	if err != nil {
		return nil, fmt.Errorf("revoke api key: %w", err)
	}

	s.publish(ctx, event.TypeAPIKeyRevoked, func(ctx context.Context) error {
		return s.events.PublishAPIKeyRevoked(ctx, key)
	})

	s.logger.InfoContext(ctx, "api key revoked",
		slog.String("key_id", key.ID),
		slog.String("key_prefix", key.KeyPrefix),
	)

	return key, nil
}

func (s *AuthService) newKey(userID, label string, now time.Time) (*domain.APIKey, string, error) {
	k, err := s.issue()
	if err != nil {
		return nil, "", fmt.Errorf("issue api key: %w", err)
	}
	return &domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Label:     label,
		KeyHash:   k.Hash,
		KeyPrefix: k.Prefix,
		CreatedAt: now,
	}, k.Plaintext, nil
}

// publish hands an event to the detached runner. Failures are logged there.
func (s *AuthService) publish(ctx context.Context, eventType string, fn detach.Task) {
	if s.tasks == nil {
		return
	}
	s.tasks.Go(ctx, "publish "+eventType, fn)
}
