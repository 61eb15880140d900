package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes the two token classes. Each kind is signed with
// its own secret, so compromising one class cannot forge the other.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

const minSecretLength = 32

// Claims are the signed claim set carried by both token kinds. Refresh
// tokens additionally embed the session id they are bound to.
type Claims struct {
	Role           Role      `json:"role,omitempty"`
	FacilityID     string    `json:"facility_id,omitempty"`
	ManufacturerID string    `json:"manufacturer_id,omitempty"`
	SessionID      string    `json:"sid,omitempty"`
	Kind           TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// Identity converts verified claims back into the resolved caller.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:         c.Subject,
		Role:           c.Role,
		FacilityID:     c.FacilityID,
		ManufacturerID: c.ManufacturerID,
	}
}

// Codec issues and verifies signed tokens. Verification is pure and
// stateless; it never consults the session store.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultIssuer     = "devicewatch"
)

// NewCodec constructs a Codec from the two signing secrets. The secrets
// must be distinct and at least 32 bytes each.
func NewCodec(accessSecret, refreshSecret string, opts ...CodecOption) (*Codec, error) {
	if len(accessSecret) < minSecretLength || len(refreshSecret) < minSecretLength {
		return nil, fmt.Errorf("%w: signing secrets must be at least %d bytes", ErrInvalidInput, minSecretLength)
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrInvalidInput)
	}
	c := &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		issuer:        defaultIssuer,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs a short-lived access token for the identity.
func (c *Codec) IssueAccess(id Identity) (string, time.Time, error) {
	return c.issue(id, "", TokenKindAccess, c.accessTTL, c.accessSecret)
}

// IssueRefresh signs a refresh token bound to the given session id.
func (c *Codec) IssueRefresh(id Identity, sessionID string) (string, time.Time, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", time.Time{}, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	return c.issue(id, sessionID, TokenKindRefresh, c.refreshTTL, c.refreshSecret)
}

func (c *Codec) issue(id Identity, sessionID string, kind TokenKind, ttl time.Duration, secret []byte) (string, time.Time, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role:           id.Role,
		FacilityID:     id.FacilityID,
		ManufacturerID: id.ManufacturerID,
		SessionID:      sessionID,
		Kind:           kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and token kind. A token of the other
// kind fails with ErrWrongTokenKind rather than ErrInvalidSignature so
// that misrouted tokens are distinguishable from forged ones.
func (c *Codec) Verify(token string, kind TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	secret, other := c.accessSecret, c.refreshSecret
	if kind == TokenKindRefresh {
		secret, other = c.refreshSecret, c.accessSecret
	}
	claims, err := c.parse(token, secret)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			// A valid token of the other class is misuse, not forgery.
			if _, otherErr := c.parse(token, other); otherErr == nil || errors.Is(otherErr, ErrTokenExpired) {
				return nil, ErrWrongTokenKind
			}
		}
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	if kind == TokenKindRefresh && strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

func (c *Codec) parse(token string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }), jwt.WithIssuer(c.issuer))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrInvalidSignature
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}
