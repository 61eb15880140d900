package httpapi

import (
	"net/http"
	"sort"

	"devicewatch.org/internal/audit"
	"devicewatch.org/internal/auth"
)

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, err := a.RequireAuthenticatedUser(r)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":    identity,
		"permissions": sortedPermissions(auth.PermissionsFor(identity.Role)),
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, err := a.RequireAuthenticatedUser(r)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	sessions, err := a.auth.ActiveSessions(r.Context(), identity.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sessions})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, err := a.RequireAuthenticatedUser(r)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), identity)
	if err := a.auth.LogoutAll(ctx, identity.UserID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "auth.logout_all", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, err := a.RequireAuthenticatedUser(r)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), identity)
	if err := a.auth.ChangePassword(ctx, identity.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "auth.password_changed", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, err := a.RequireAdminUser(r); err != nil {
		handleAuthError(w, r, err)
		return
	}
	users, err := a.store.Users(r.Context()).List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (a *API) handleFacilityProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, err := a.RequireFacilityUser(r)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"facility_id": identity.FacilityID,
		"permissions": sortedPermissions(auth.PermissionsFor(identity.Role)),
	})
}

func (a *API) handleManufacturerProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, err := a.RequireManufacturerUser(r)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"manufacturer_id": identity.ManufacturerID,
		"permissions":     sortedPermissions(auth.PermissionsFor(identity.Role)),
	})
}

func sortedPermissions(perms map[string]struct{}) []string {
	out := make([]string, 0, len(perms))
	for k := range perms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
