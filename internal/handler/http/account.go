package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/service"
	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/httputil"
	"github.com/utafrali/authcore/pkg/middleware"
)

// AccountHandler handles the endpoints that require a signed-in user.
type AccountHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAccountHandler creates a new account HTTP handler.
func NewAccountHandler(svc *service.AuthService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// ChangePasswordRequest is the JSON request body for changing a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

// SetPasswordRequest is the JSON request body for OAuth users adding a password.
type SetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

// DeleteAccountRequest is the JSON request body for account deletion.
type DeleteAccountRequest struct {
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

// RevokeAllRequest is the JSON request body for signing out everywhere.
type RevokeAllRequest struct {
	ExceptCurrent bool `json:"exceptCurrent"`
}

// --- Response types ---

// SessionView is one entry of the session list. The refresh token hash is
// never exposed.
type SessionView struct {
	ID         string            `json:"id"`
	DeviceInfo domain.DeviceInfo `json:"deviceInfo"`
	IP         string            `json:"ip"`
	LastActive time.Time         `json:"lastActive"`
	CreatedAt  time.Time         `json:"createdAt"`
	Current    bool              `json:"current"`
}

// SessionsResponse wraps the session list.
type SessionsResponse struct {
	Sessions []SessionView `json:"sessions"`
}

// TokenMessageResponse acknowledges an action and, when the caller's
// session survived a version bump, hands back its new access token.
type TokenMessageResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"accessToken,omitempty"`
}

// GoogleLinkResponse reports the account state after linking Google.
type GoogleLinkResponse struct {
	Message       string `json:"message"`
	GoogleLinked  bool   `json:"googleLinked"`
	EmailVerified bool   `json:"emailVerified"`
}

// --- Handlers ---

// Me handles GET /auth/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}

// Logout handles POST /auth/logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Logout(ctx, middleware.UserIDFromContext(ctx), middleware.SessionIDFromContext(ctx)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Logged out successfully")
}

// ChangePassword handles PUT /auth/change-password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	access, err := h.service.ChangePassword(ctx,
		middleware.UserIDFromContext(ctx), middleware.SessionIDFromContext(ctx),
		req.CurrentPassword, req.NewPassword)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, TokenMessageResponse{
		Message:     "Password changed successfully",
		AccessToken: access,
	})
}

// SetPassword handles POST /auth/set-password
func (h *AccountHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req SetPasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SetPassword(r.Context(), middleware.UserIDFromContext(r.Context()), req.Password); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Password set successfully")
}

// LinkGoogle handles POST /auth/google/link
func (h *AccountHandler) LinkGoogle(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.LinkGoogle(r.Context(), middleware.UserIDFromContext(r.Context()), identity.Credential{
		Code:        req.Code,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, GoogleLinkResponse{
		Message:       "Google account linked successfully",
		GoogleLinked:  true,
		EmailVerified: user.EmailVerified,
	})
}

// UnlinkGoogle handles POST /auth/google/unlink
func (h *AccountHandler) UnlinkGoogle(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UnlinkGoogle(r.Context(), middleware.UserIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Google account unlinked successfully")
}

// ResendVerification handles POST /auth/resend-verification
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResendVerification(r.Context(), middleware.UserIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Verification email sent")
}

// DeleteAccount handles DELETE /auth/account
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req DeleteAccountRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	err := h.service.DeleteAccount(r.Context(), middleware.UserIDFromContext(r.Context()), req.Password, req.Confirmation)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Account deleted successfully")
}

// ListSessions handles GET /auth/sessions
func (h *AccountHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := h.service.Sessions(ctx, middleware.UserIDFromContext(ctx))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	current := middleware.SessionIDFromContext(ctx)
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{
			ID:         s.ID,
			DeviceInfo: s.DeviceInfo,
			IP:         s.IPAddress,
			LastActive: s.LastActive,
			CreatedAt:  s.CreatedAt,
			Current:    s.ID == current,
		})
	}

	httputil.WriteJSON(w, http.StatusOK, SessionsResponse{Sessions: views})
}

// RevokeSession handles DELETE /auth/sessions/{id}
func (h *AccountHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	// Session ids are UUIDs; anything else cannot name a session.
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.WriteError(w, r, apperrors.NotFound("session", raw), h.logger)
		return
	}

	if err := h.service.RevokeSession(r.Context(), middleware.UserIDFromContext(r.Context()), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "Session revoked successfully")
}

// RevokeAllSessions handles POST /auth/sessions/revoke-all. The body is
// optional; without it every session is revoked.
func (h *AccountHandler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	var req RevokeAllRequest
	if r.ContentLength != 0 && !httputil.DecodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	access, err := h.service.RevokeAllSessions(ctx,
		middleware.UserIDFromContext(ctx), middleware.SessionIDFromContext(ctx), req.ExceptCurrent)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, TokenMessageResponse{
		Message:     "All sessions revoked",
		AccessToken: access,
	})
}
