// Package memory implements the repository interfaces with maps. It backs
// router-level tests that exercise the full request path without PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tejasdc/starter-stack/internal/domain"
	"github.com/tejasdc/starter-stack/internal/repository"
	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
)

// Store holds users and API keys in memory. The same uniqueness and
// revocation rules as the PostgreSQL schema apply; emails compare
// case-sensitively like the users_email_idx unique index.
type Store struct {
	mu    sync.RWMutex
	users map[string]domain.User
	keys  map[string]domain.APIKey
	now   func() time.Time

	// Set only on transaction snapshots: the rows fn wrote.
	dirtyUsers map[string]struct{}
	dirtyKeys  map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users: make(map[string]domain.User),
		keys:  make(map[string]domain.APIKey),
		now:   time.Now,
	}
}

// Users returns the store as a repository.UserRepository.
func (s *Store) Users() repository.UserRepository { return userRepo{s} }

// APIKeys returns the store as a repository.APIKeyRepository.
func (s *Store) APIKeys() repository.APIKeyRepository { return keyRepo{s} }

// InTx implements repository.TxRunner. fn runs against a snapshot; only the
// rows it wrote are merged back, and nothing is when fn fails or a unique
// constraint would be violated by writes committed meanwhile.
func (s *Store) InTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	tx := s.snapshot()
	if err := fn(repository.Repositories{Users: tx.Users(), APIKeys: tx.APIKeys()}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.dirtyUsers {
		if _, exists := s.users[id]; !exists && s.emailTaken(tx.users[id].Email) {
			return apperrors.Conflict("email already registered", nil)
		}
	}
	for id := range tx.dirtyKeys {
		if _, exists := s.keys[id]; !exists && s.hashTaken(tx.keys[id].KeyHash) {
			return apperrors.Conflict("api key already exists", nil)
		}
	}

	for id := range tx.dirtyUsers {
		s.users[id] = tx.users[id]
	}
	for id := range tx.dirtyKeys {
		s.keys[id] = mergeKey(s.keys[id], tx.keys[id])
	}
	return nil
}

// mergeKey folds a transaction's copy of a key into the live row. Revocation
// and last use only move forward, so a revoke committed while the
// transaction ran is never undone.
func mergeKey(live, tx domain.APIKey) domain.APIKey {
	if live.ID == "" {
		return tx
	}
	if live.RevokedAt == nil {
		live.RevokedAt = tx.RevokedAt
	}
	if tx.LastUsedAt != nil && (live.LastUsedAt == nil || tx.LastUsedAt.After(*live.LastUsedAt)) {
		live.LastUsedAt = tx.LastUsedAt
	}
	return live
}

func (s *Store) snapshot() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := New()
	c.now = s.now
	c.dirtyUsers = make(map[string]struct{})
	c.dirtyKeys = make(map[string]struct{})
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.keys {
		c.keys[k] = v
	}
	return c
}

func (s *Store) markUser(id string) {
	if s.dirtyUsers != nil {
		s.dirtyUsers[id] = struct{}{}
	}
}

func (s *Store) markKey(id string) {
	if s.dirtyKeys != nil {
		s.dirtyKeys[id] = struct{}{}
	}
}

// emailTaken reports whether any user has email. Callers hold s.mu.
func (s *Store) emailTaken(email string) bool {
	for _, u := range s.users {
		if u.Email == email {
			return true
		}
	}
	return false
}

// hashTaken reports whether any key has hash. Callers hold s.mu.
func (s *Store) hashTaken(hash string) bool {
	for _, k := range s.keys {
		if k.KeyHash == hash {
			return true
		}
	}
	return false
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.emailTaken(u.Email) {
		return apperrors.Conflict("email already registered", nil)
	}
	r.s.users[u.ID] = *u
	r.s.markUser(u.ID)
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return &u, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

type keyRepo struct{ s *Store }

func (r keyRepo) Create(_ context.Context, k *domain.APIKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[k.UserID]; !ok {
		return apperrors.BadRequest("unknown user", nil)
	}
	if r.s.hashTaken(k.KeyHash) {
		return apperrors.Conflict("api key already exists", nil)
	}
	r.s.keys[k.ID] = *k
	r.s.markKey(k.ID)
	return nil
}

func (r keyRepo) FindActiveByHash(_ context.Context, hash string) (*domain.APIKey, *domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, k := range r.s.keys {
		if k.KeyHash == hash && k.IsActive() {
			u := r.s.users[k.UserID]
			return &k, &u, nil
		}
	}
	return nil, nil, apperrors.ErrNotFound
}

func (r keyRepo) TouchLastUsed(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k, ok := r.s.keys[id]
	if !ok || !k.IsActive() {
		return nil
	}
	now := r.s.now().UTC()
	k.LastUsedAt = &now
	r.s.keys[id] = k
	r.s.markKey(id)
	return nil
}

func (r keyRepo) Revoke(_ context.Context, id, userID string) (*domain.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k, ok := r.s.keys[id]
	if !ok || k.UserID != userID || !k.Revoke(r.s.now()) {
		return nil, apperrors.NotFound("api key", id)
	}
	r.s.keys[id] = k
	r.s.markKey(id)
	return &k, nil
}

func (r keyRepo) ListActiveByUser(_ context.Context, userID string, opts repository.ListOptions) ([]domain.APIKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	keys := []domain.APIKey{}
	for _, k := range r.s.keys {
		if k.UserID != userID || !k.IsActive() {
			continue
		}
		if opts.After != nil && !olderThan(k, *opts.After) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return olderThan(keys[j], repository.KeyCursor{CreatedAt: keys[i].CreatedAt, ID: keys[i].ID})
	})
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}
	return keys, nil
}

// olderThan reports whether k sorts after c in (created_at DESC, id DESC)
// order, the row comparison the SQL keyset uses.
func olderThan(k domain.APIKey, c repository.KeyCursor) bool {
	if k.CreatedAt.Equal(c.CreatedAt) {
		return k.ID < c.ID
	}
	return k.CreatedAt.Before(c.CreatedAt)
}

var _ repository.TxRunner = (*Store)(nil)
