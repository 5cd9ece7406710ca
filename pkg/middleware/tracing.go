package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tejasdc/starter-stack/pkg/logger"
)

// Tracing starts a server span per request, continuing any W3C trace context
// the caller sent. Spans are named by chi route pattern, so
// DELETE /api/auth/api-keys/{id} is one span name for every key id. Once the
// handler returns the span carries the status code, the request ID and, when
// the API key gate admitted the request, enduser.id. The Authorization header
// is never recorded.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer("github.com/tejasdc/starter-stack/" + serviceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, _ = withPrincipal(ctx)

			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethod(r.Method),
					semconv.HTTPTarget(r.URL.Path),
					semconv.HTTPScheme(scheme(r)),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			span.SetName(r.Method + " " + route)

			attrs := []attribute.KeyValue{
				attribute.String("http.route", route),
				semconv.HTTPStatusCode(rw.statusCode),
			}
			if id := logger.RequestIDFromContext(ctx); id != "" {
				attrs = append(attrs, attribute.String("http.request_id", id))
			}
			if userID := UserIDFromContext(ctx); userID != "" {
				attrs = append(attrs, attribute.String("enduser.id", userID))
			}
			span.SetAttributes(attrs...)

			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}
		})
	}
}

// scheme returns the scheme the client used, honoring X-Forwarded-Proto from
// a terminating proxy.
func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
