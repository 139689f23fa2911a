package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/service"
)

type claimsKey struct{}

// ClaimsFrom returns the session claims RequireAuth stored on the request.
func ClaimsFrom(ctx context.Context) (*service.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*service.Claims)
	return c, ok
}

// AuthHandler serves administrator login and session endpoints.
type AuthHandler struct {
	logger *logrus.Logger
	auth   *service.AuthService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(logger *logrus.Logger, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{logger: logger, auth: auth}
}

// RequireAuth rejects requests without a valid "Bearer" session token.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}
		claims, err := h.auth.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusForbidden, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := h.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Register handles POST /api/auth/register
// Only an authenticated administrator may add another.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := h.auth.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "User already exists")
			return
		}
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}
	u, err := h.auth.Me(r.Context(), claims)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "Invalid or expired token")
			return
		}
		writeServiceError(w, r, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}
