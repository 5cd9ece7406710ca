package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/tejasdc/starter-stack/pkg/httputil"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func attrsOf(s sdktrace.ReadOnlySpan) map[string]string {
	attrs := make(map[string]string)
	for _, a := range s.Attributes() {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	return attrs
}

// authRouter mirrors the /api/auth layout: RequestID outside Tracing and a
// stand-in for the API key gate that reports the caller.
func authRouter(status int) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Tracing("starter-api"))
	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			SetUserID(r.Context(), "u-1")
			w.WriteHeader(status)
		})
		r.Delete("/api-keys/{id}", func(w http.ResponseWriter, r *http.Request) {
			SetUserID(r.Context(), "u-1")
			w.WriteHeader(status)
		})
		r.Post("/register", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
	})
	return r
}

func serveTraced(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, sdktrace.ReadOnlySpan) {
	t.Helper()
	spans := recordSpans(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	return rec, ended[0]
}

func TestTracing_SpanNamedByRoutePattern(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/auth/api-keys/6f1c2d3e-0000-4000-8000-000000000001", nil)
	_, span := serveTraced(t, authRouter(http.StatusOK), req)

	assert.Equal(t, "DELETE /api/auth/api-keys/{id}", span.Name())
	attrs := attrsOf(span)
	assert.Equal(t, "/api/auth/api-keys/{id}", attrs["http.route"])
	assert.Equal(t, "200", attrs["http.status_code"])
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
}

func TestTracing_RecordsCallerAndRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer sk_secret")
	rec, span := serveTraced(t, authRouter(http.StatusOK), req)

	attrs := attrsOf(span)
	assert.Equal(t, "u-1", attrs["enduser.id"])
	assert.Equal(t, rec.Header().Get(httputil.RequestIDHeader), attrs["http.request_id"])
	for k, v := range attrs {
		assert.NotContains(t, v, "sk_secret", "attribute %s leaks the API key", k)
	}
}

func TestTracing_AnonymousRouteHasNoCaller(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", nil)
	_, span := serveTraced(t, authRouter(http.StatusCreated), req)

	assert.NotContains(t, attrsOf(span), "enduser.id")
	assert.Equal(t, "POST /api/auth/register", span.Name())
}

func TestTracing_UnmatchedRoute(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	_, span := serveTraced(t, authRouter(http.StatusOK), req)

	assert.Equal(t, "GET unmatched", span.Name())
}

func TestTracing_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   codes.Code
	}{
		{http.StatusUnauthorized, codes.Unset},
		{http.StatusTooManyRequests, codes.Unset},
		{http.StatusInternalServerError, codes.Error},
		{http.StatusServiceUnavailable, codes.Error},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			_, span := serveTraced(t, authRouter(tt.status), req)
			assert.Equal(t, tt.want, span.Status().Code)
		})
	}
}

func TestTracing_ContinuesInboundTraceAndInjects(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	rec, span := serveTraced(t, authRouter(http.StatusOK), req)

	assert.Equal(t, traceID, span.SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", span.Parent().SpanID().String())
	assert.Contains(t, rec.Header().Get("traceparent"), traceID)
}
