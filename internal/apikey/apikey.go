// Package apikey generates API key secrets and derives their lookup hash and
// display prefix.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// Scheme tags every secret so it is recognisable in logs and scanners.
	Scheme = "sk_"

	secretBytes = 32
	prefixChars = 8
)

// Key is a freshly issued credential. Plaintext must be returned to the caller
// exactly once and never stored.
type Key struct {
	Plaintext string
	Prefix    string
	Hash      string
}

// Issue generates a new secret from crypto/rand.
func Issue() (Key, error) {
	return issue(rand.Reader)
}

func issue(r io.Reader) (Key, error) {
	b := make([]byte, secretBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return Key{}, fmt.Errorf("read random bytes: %w", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(b)
	plaintext := Scheme + payload

	return Key{
		Plaintext: plaintext,
		Prefix:    Scheme + payload[:prefixChars],
		Hash:      Hash(plaintext),
	}, nil
}

// Hash returns the hex SHA-256 digest used to look a secret up. The secret has
// full entropy, so an unsalted fast hash is sufficient and keeps lookups
// indexable.
func Hash(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// LooksValid reports whether s has the shape of an issued secret. It lets the
// gate reject garbage without a database round trip.
func LooksValid(s string) bool {
	if !strings.HasPrefix(s, Scheme) {
		return false
	}
	payload := s[len(Scheme):]
	if len(payload) != base64.RawURLEncoding.EncodedLen(secretBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(payload)
	return err == nil
}
