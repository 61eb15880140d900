package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"devicewatch.org/internal/audit"
	"devicewatch.org/internal/auth"
	"devicewatch.org/internal/obs"
)

type registerRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	FacilityID     string `json:"facility_id"`
	ManufacturerID string `json:"manufacturer_id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	role := auth.Role(strings.TrimSpace(strings.ToLower(req.Role)))
	scopeID := req.FacilityID
	if role == auth.RoleManufacturer {
		scopeID = req.ManufacturerID
	}
	user, err := a.auth.Register(r.Context(), req.Email, req.Password, role, scopeID, metadataFrom(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": user.ID,
		"role":    string(user.Role),
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	pair, identity, err := a.auth.Login(r.Context(), req.Email, req.Password, metadataFrom(r))
	if err != nil {
		obs.AuthAttempt("login", "fail")
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"reason": auth.Code(err),
		})
		handleAuthError(w, r, err)
		return
	}
	obs.AuthAttempt("login", "ok")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": identity.UserID,
		"role":    string(identity.Role),
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	pair, identity, err := a.auth.Refresh(r.Context(), req.RefreshToken, metadataFrom(r))
	if err != nil {
		obs.AuthAttempt("refresh", "fail")
		if errors.Is(err, auth.ErrSessionReuse) {
			obs.SessionReuseDetected()
			_ = audit.LogEvent(r.Context(), "auth.session.reuse_detected", nil)
		}
		handleAuthError(w, r, err)
		return
	}
	obs.AuthAttempt("refresh", "ok")
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": identity.UserID,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if err := a.auth.RequestPasswordReset(r.Context(), req.Email, metadataFrom(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password_reset.requested", nil)
	// Always accepted: the response never reveals whether the account exists.
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func metadataFrom(r *http.Request) auth.Metadata {
	return auth.Metadata{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
