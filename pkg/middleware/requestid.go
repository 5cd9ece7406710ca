package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tejasdc/starter-stack/pkg/httputil"
	"github.com/tejasdc/starter-stack/pkg/logger"
)

// RequestID assigns a fresh identifier to every request, echoes it in the
// X-Request-Id response header and stores it in context for logging and error
// envelopes. Inbound X-Request-Id values are not trusted.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(httputil.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
