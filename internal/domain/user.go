package domain

import (
	"time"
)

// User is an identity that owns API keys. Email is unique and never changes
// after registration.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// APIKey is a stored credential. Only the hash of the secret is persisted; the
// plaintext is shown once at issuance.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Label      string     `json:"label"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"prefix"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// DefaultKeyLabel is used when a key is issued without a label.
const DefaultKeyLabel = "default"

// IsActive reports whether the key has not been revoked. Revocation is
// terminal.
func (k *APIKey) IsActive() bool {
	return k.RevokedAt == nil
}

// Revoke marks the key revoked at t. It returns false when the key was already
// revoked, in which case the original revocation time is kept.
func (k *APIKey) Revoke(t time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	rt := t.UTC()
	k.RevokedAt = &rt
	return true
}
