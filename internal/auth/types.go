package auth

import "time"

// Role is the closed set of portal roles. Every user carries exactly one.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleFacility     Role = "facility"
	RoleManufacturer Role = "manufacturer"
)

// ValidRole reports whether r belongs to the closed role set.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleFacility, RoleManufacturer:
		return true
	}
	return false
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User represents a portal account. FacilityID/ManufacturerID scope
// facility and manufacturer accounts to the registration they act for.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Role           Role      `json:"role"`
	FacilityID     string    `json:"facility_id,omitempty"`
	ManufacturerID string    `json:"manufacturer_id,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Identity is the resolved caller: who is acting, with which role and
// which registration scope. It is what guards hand to business handlers.
type Identity struct {
	UserID         string `json:"user_id"`
	Role           Role   `json:"role"`
	FacilityID     string `json:"facility_id,omitempty"`
	ManufacturerID string `json:"manufacturer_id,omitempty"`
}

// Session is one link of a refresh-token lineage. The head of a lineage
// has LineageID equal to its own ID; rotation appends links to the chain.
// ReplacedBy is set exactly once, when the session is rotated. A session
// with ReplacedBy or RevokedAt set never validates a refresh again.
type Session struct {
	ID         string     `json:"id"`
	LineageID  string     `json:"lineage_id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	ReplacedBy *string    `json:"replaced_by,omitempty"`
	IP         string     `json:"ip,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
}

// Active reports whether the session may still validate a refresh.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ReplacedBy == nil && now.Before(s.ExpiresAt)
}

// Metadata carries client attributes captured on login and refresh.
type Metadata struct {
	IP        string
	UserAgent string
}

// TokenPair is the wire shape returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
