package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
	"github.com/tejasdc/starter-stack/pkg/logger"
	"github.com/tejasdc/starter-stack/pkg/validator"
)

// RequestIDHeader carries the per-request correlation identifier.
const RequestIDHeader = "X-Request-Id"

// ErrorEnvelope is the single JSON shape used for every error response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the payload of an ErrorEnvelope.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// Normalize converts any error into the AppError that will be shown to the
// client. The second return value reports whether the error was unexpected
// and therefore must be logged with full detail.
func Normalize(err error) (*apperrors.AppError, bool) {
	if appErr, ok := apperrors.As(err); ok {
		if appErr.Kind == apperrors.KindInternal {
			return apperrors.Internal(appErr.Err), true
		}
		return appErr, false
	}
	if appErr, ok := apperrors.FromSentinel(err); ok {
		return appErr, false
	}

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return apperrors.Validation("validation failed", valErr.Issues()), false
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return apperrors.BadRequest("request body too large", nil), false
	}

	return apperrors.Internal(err), true
}

// WriteError writes the canonical error envelope for err. Unexpected errors are
// logged server-side and reduced to a generic INTERNAL_ERROR so driver errors
// and stack traces never reach the client. It prefers the request-scoped
// logger from context over the fallback logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	requestID := logger.RequestIDFromContext(r.Context())
	appErr, unexpected := Normalize(err)

	if unexpected {
		l.ErrorContext(r.Context(), "unhandled error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", requestID),
		)
	}

	body := ErrorBody{
		Code:      appErr.Code(),
		Message:   appErr.Message,
		Status:    appErr.Status(),
		RequestID: requestID,
	}
	if !unexpected {
		body.Details = appErr.Details
	}

	WriteJSON(w, body.Status, ErrorEnvelope{Error: body})
}

// NotFoundHandler renders unmatched routes in the error envelope.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, apperrors.New(apperrors.KindNotFound, "not found", nil), nil)
}

// MethodNotAllowedHandler renders 405s in the error envelope.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, apperrors.MethodNotAllowed(""), nil)
}
