package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind is the closed set of error categories the API exposes.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindValidation
	KindRateLimited
	KindServiceUnavailable
	KindMethodNotAllowed
	KindUnsupportedMediaType
)

// Code returns the machine-readable code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindBadRequest:
		return "BAD_REQUEST"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case KindMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case KindUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	case KindInternal:
		return "INTERNAL_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel errors wrapped by the matching constructors, so callers can use
// errors.Is without caring about the message.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrInternal           = errors.New("internal error")
	ErrServiceUnavailable = errors.New("service unavailable")

	ErrMethodNotAllowed     = errors.New("method not allowed")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindBadRequest:
		return ErrBadRequest
	case KindUnauthorized:
		return ErrUnauthorized
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindValidation:
		return ErrValidation
	case KindRateLimited:
		return ErrRateLimited
	case KindServiceUnavailable:
		return ErrServiceUnavailable
	case KindMethodNotAllowed:
		return ErrMethodNotAllowed
	case KindUnsupportedMediaType:
		return ErrUnsupportedMediaType
	default:
		return ErrInternal
	}
}

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *AppError) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// Code returns the machine-readable error code.
func (e *AppError) Code() string { return e.Kind.Code() }

// Status returns the HTTP status code.
func (e *AppError) Status() int { return e.Kind.Status() }

// New creates an AppError of the given kind.
func New(kind Kind, message string, details any) *AppError {
	return &AppError{Kind: kind, Message: message, Details: details}
}

// BadRequest creates a 400 error.
func BadRequest(message string, details any) *AppError {
	return New(KindBadRequest, message, details)
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return New(KindUnauthorized, message, nil)
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return New(KindForbidden, message, nil)
}

// NotFoundDetails identifies the missing resource.
type NotFoundDetails struct {
	Resource string `json:"resource"`
	ID       string `json:"id,omitempty"`
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return New(KindNotFound, resource+" not found", NotFoundDetails{Resource: resource, ID: id})
}

// Conflict creates a 409 error.
func Conflict(message string, details any) *AppError {
	return New(KindConflict, message, details)
}

// Validation creates a 422 error.
func Validation(message string, details any) *AppError {
	if message == "" {
		message = "validation failed"
	}
	return New(KindValidation, message, details)
}

// RateLimited creates a 429 error.
func RateLimited(message string, details any) *AppError {
	if message == "" {
		message = "rate limited"
	}
	return New(KindRateLimited, message, details)
}

// Internal creates a 500 error. The cause is kept for logging only.
func Internal(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: "internal error", Err: err}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string, details any) *AppError {
	return New(KindServiceUnavailable, message, details)
}

// MethodNotAllowed creates a 405 error.
func MethodNotAllowed(message string) *AppError {
	if message == "" {
		message = "method not allowed"
	}
	return New(KindMethodNotAllowed, message, nil)
}

// UnsupportedMediaType creates a 415 error.
func UnsupportedMediaType(message string) *AppError {
	if message == "" {
		message = "unsupported media type"
	}
	return New(KindUnsupportedMediaType, message, nil)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

var publicKinds = []Kind{
	KindBadRequest, KindUnauthorized, KindForbidden, KindNotFound,
	KindConflict, KindValidation, KindRateLimited, KindServiceUnavailable,
	KindMethodNotAllowed, KindUnsupportedMediaType,
}

// FromSentinel converts a bare sentinel (possibly wrapped with fmt.Errorf)
// into an AppError carrying the sentinel's message.
func FromSentinel(err error) (*AppError, bool) {
	for _, k := range publicKinds {
		s := sentinelFor(k)
		if errors.Is(err, s) {
			return New(k, s.Error(), nil), true
		}
	}
	return nil, false
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Status()
	}
	if appErr, ok := FromSentinel(err); ok {
		return appErr.Status()
	}
	return http.StatusInternalServerError
}

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation anywhere in its chain.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	// Mocks and some wrappers only carry the SQLSTATE in the message.
	return strings.Contains(err.Error(), uniqueViolation)
}

// ConstraintName returns the violated constraint name when err carries one.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
