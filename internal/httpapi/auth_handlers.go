package httpapi

import (
	"errors"
	"net/http"

	"ediportal.org/internal/audit"
	"ediportal.org/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

const resetAcknowledgement = "If the email is registered, a password reset link has been sent"

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !bindJSON(w, r, &req) {
		return
	}
	session, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{UserID: session.User.ID, Role: session.User.Role})
	_ = audit.LogEvent(ctx, "auth.register", map[string]any{"username": session.User.Username, "role": session.User.Role})
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !bindJSON(w, r, &req) {
		return
	}
	session, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			_ = audit.LogEvent(r.Context(), "auth.login_failed", map[string]any{"username": req.Username})
		}
		writeServiceError(w, r, err)
		return
	}
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{UserID: session.User.ID, Role: session.User.Role})
	_ = audit.LogEvent(ctx, "auth.login", nil)
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !bindJSON(w, r, &req) {
		return
	}
	pair, err := a.auth.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", nil)
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !bindJSON(w, r, &req) {
		return
	}
	if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !bindJSON(w, r, &req) {
		return
	}
	if err := a.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reset_requested", nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: resetAcknowledgement})
}

func (a *API) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !bindJSON(w, r, &req) {
		return
	}
	err := a.auth.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidResetToken):
		_ = audit.LogEvent(r.Context(), "auth.reset_rejected", nil)
		writeError(w, r, http.StatusBadRequest, kindValidation, "Invalid or expired token")
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reset_completed", nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successful"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, kindUnauthorized, "missing bearer token")
		return
	}
	user, err := a.auth.CurrentUser(r.Context(), principal.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, kindUnauthorized, "missing bearer token")
		return
	}
	var upd auth.ProfileUpdate
	if !bindJSON(w, r, &upd) {
		return
	}
	user, err := a.auth.UpdateProfile(r.Context(), principal.UserID, upd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.profile_updated", map[string]any{"completed": user.Profile.CompletedAt != nil})
	writeJSON(w, http.StatusOK, user)
}
