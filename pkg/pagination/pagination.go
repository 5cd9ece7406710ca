// Package pagination parses limit/cursor query parameters. Cursors are opaque
// to clients: base64url-encoded JSON chosen by the endpoint.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100

	// NextCursorHeader carries the cursor for the following page on list
	// endpoints whose body is a bare array.
	NextCursorHeader = "X-Next-Cursor"
)

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Limit  int
	Cursor string
}

// DefaultParams returns the parameters used when the query is empty.
func DefaultParams() Params {
	return Params{Limit: DefaultLimit}
}

// FromRequest extracts limit and cursor from an HTTP request. An invalid
// limit yields a BAD_REQUEST AppError.
func FromRequest(r *http.Request) (Params, error) {
	q := r.URL.Query()
	limit, err := ParseLimit(q.Get("limit"), DefaultLimit, MaxLimit)
	if err != nil {
		return Params{}, err
	}
	return Params{Limit: limit, Cursor: q.Get("cursor")}, nil
}

// ParseLimit parses raw as a positive integer clamped to maxLimit. Empty input
// yields defaultLimit.
func ParseLimit(raw string, defaultLimit, maxLimit int) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.BadRequest("invalid limit", nil)
	}
	if n > maxLimit {
		return maxLimit, nil
	}
	return n, nil
}

// EncodeCursor serialises payload into an opaque cursor string.
func EncodeCursor(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a cursor produced by EncodeCursor into dst. Any
// malformed input yields a BAD_REQUEST AppError.
func DecodeCursor(cursor string, dst any) error {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return apperrors.BadRequest("invalid cursor", nil)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperrors.BadRequest("invalid cursor", nil)
	}
	return nil
}

// Result is one page of items plus the cursor for the next page. NextCursor is
// empty on the last page.
type Result[T any] struct {
	Data       []T
	NextCursor string
}
