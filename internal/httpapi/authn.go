package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"devicewatch.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// RequireAuthenticatedUser resolves the caller from the presented access
// token. Resolution is pure token verification; it never touches the
// session store.
func (a *API) RequireAuthenticatedUser(r *http.Request) (auth.Identity, error) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %s", auth.ErrUnauthenticated, err)
	}
	identity, err := a.auth.ResolveIdentity(token)
	if err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

// RequireAdminUser resolves the caller and enforces the admin role.
func (a *API) RequireAdminUser(r *http.Request) (auth.Identity, error) {
	return a.requireRole(r, auth.RoleAdmin)
}

// RequireFacilityUser resolves the caller, enforces the facility role and
// requires the facility scoping id data-access collaborators filter by.
func (a *API) RequireFacilityUser(r *http.Request) (auth.Identity, error) {
	identity, err := a.requireRole(r, auth.RoleFacility)
	if err != nil {
		return auth.Identity{}, err
	}
	if strings.TrimSpace(identity.FacilityID) == "" {
		return auth.Identity{}, fmt.Errorf("%w: missing facility scope", auth.ErrForbidden)
	}
	return identity, nil
}

// RequireManufacturerUser is the manufacturer counterpart of
// RequireFacilityUser.
func (a *API) RequireManufacturerUser(r *http.Request) (auth.Identity, error) {
	identity, err := a.requireRole(r, auth.RoleManufacturer)
	if err != nil {
		return auth.Identity{}, err
	}
	if strings.TrimSpace(identity.ManufacturerID) == "" {
		return auth.Identity{}, fmt.Errorf("%w: missing manufacturer scope", auth.ErrForbidden)
	}
	return identity, nil
}

func (a *API) requireRole(r *http.Request, role auth.Role) (auth.Identity, error) {
	identity, err := a.RequireAuthenticatedUser(r)
	if err != nil {
		return auth.Identity{}, err
	}
	if identity.Role != role {
		return auth.Identity{}, fmt.Errorf("%w: %s role required", auth.ErrForbidden, role)
	}
	return identity, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
