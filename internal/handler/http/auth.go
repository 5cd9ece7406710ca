package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tejasdc/starter-stack/internal/domain"
	"github.com/tejasdc/starter-stack/internal/service"
	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
	"github.com/tejasdc/starter-stack/pkg/httputil"
	"github.com/tejasdc/starter-stack/pkg/pagination"
	"github.com/tejasdc/starter-stack/pkg/validator"
)

// AuthHandler handles HTTP requests for the /api/auth endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for registration.
type RegisterRequest struct {
	Name  string `json:"name" validate:"required,notblank,max=200"`
	Email string `json:"email" validate:"required,email,max=320"`
}

// CreateAPIKeyRequest is the optional JSON request body for issuing a key.
type CreateAPIKeyRequest struct {
	Label string `json:"label" validate:"omitempty,notblank,max=100"`
}

// --- Response types ---

// UserResponse is the public view of an identity.
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RegisterResponse carries the new identity and its first key. The key is
// shown exactly once.
type RegisterResponse struct {
	User   UserResponse `json:"user"`
	APIKey string       `json:"apiKey"`
}

// APIKeyResponse is the listing view of a key. The hash never leaves the
// server.
type APIKeyResponse struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Prefix     string     `json:"prefix"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// CreatedAPIKeyResponse is returned once when a key is issued.
type CreatedAPIKeyResponse struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"createdAt"`
	APIKey    string    `json:"apiKey"`
}

// RevokeResponse confirms a revocation.
type RevokeResponse struct {
	ID        string     `json:"id"`
	RevokedAt *time.Time `json:"revokedAt"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}

func toAPIKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Label:      k.Label,
		Prefix:     k.KeyPrefix,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// --- Handlers ---

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	user, plaintext, err := h.service.Register(r.Context(), service.RegisterInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, RegisterResponse{
		User:   toUserResponse(user),
		APIKey: plaintext,
	})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.caller(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(&ac.User))
}

// ListAPIKeys handles GET /api/auth/api-keys
func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.caller(w, r)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	page, err := h.service.ListAPIKeys(r.Context(), ac.User.ID, params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	out := make([]APIKeyResponse, 0, len(page.Data))
	for _, k := range page.Data {
		out = append(out, toAPIKeyResponse(k))
	}
	if page.NextCursor != "" {
		w.Header().Set(pagination.NextCursorHeader, page.NextCursor)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// CreateAPIKey handles POST /api/auth/api-keys. The body is optional.
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req CreateAPIKeyRequest
	if r.ContentLength != 0 {
		if err := validator.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}

	key, plaintext, err := h.service.CreateAPIKey(r.Context(), ac.User.ID, req.Label)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, CreatedAPIKeyResponse{
		ID:        key.ID,
		Label:     key.Label,
		Prefix:    key.KeyPrefix,
		CreatedAt: key.CreatedAt,
		APIKey:    plaintext,
	})
}

// RevokeAPIKey handles POST /api/auth/api-keys/{id}/revoke
func (h *AuthHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.caller(w, r)
	if !ok {
		return
	}

	key, err := h.service.RevokeAPIKey(r.Context(), ac.User.ID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, RevokeResponse{ID: key.ID, RevokedAt: key.RevokedAt})
}

// caller returns the authenticated identity. The gate guarantees one on every
// non-public route, so a miss means the route was wired without it.
func (h *AuthHandler) caller(w http.ResponseWriter, r *http.Request) (*domain.AuthContext, bool) {
	ac, ok := domain.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized(""), h.logger)
		return nil, false
	}
	return ac, true
}
