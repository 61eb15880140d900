package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"devicewatch.org/internal/ids"
	"devicewatch.org/internal/ratelimit"
)

// dummyHash is a real bcrypt hash compared against when the login
// identifier is unknown, so the unknown-user path and the wrong-password
// path cost the same amount of work and return the same error.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Service orchestrates login, refresh and logout: it owns the
// rotation/reuse-detection protocol over the session store and is the
// only writer of session lineage state.
type Service struct {
	store   Store
	codec   *Codec
	limiter ratelimit.Limiter
	now     func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithRateLimiter injects the abuse-control limiter. Defaults to the
// fail-open disabled variant.
func WithRateLimiter(l ratelimit.Limiter) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the session manager.
func NewService(store Store, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	s := &Service{
		store:   store,
		codec:   codec,
		limiter: ratelimit.NewDisabled(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a portal account. Facility and manufacturer accounts
// must carry the registration id they act for.
func (s *Service) Register(ctx context.Context, email, password string, role Role, scopeID string, meta Metadata) (*User, error) {
	if err := s.gate(ctx, clientKey(meta), ratelimit.ActionSignup); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: unsupported role %s", ErrInvalidInput, role)
	}
	scopeID = strings.TrimSpace(scopeID)
	if (role == RoleFacility || role == RoleManufacturer) && scopeID == "" {
		return nil, fmt.Errorf("%w: %s accounts require a registration id", ErrInvalidInput, role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       UserStatusActive,
	}
	switch role {
	case RoleFacility:
		user.FacilityID = scopeID
	case RoleManufacturer:
		user.ManufacturerID = scopeID
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates credentials and opens a fresh session lineage.
// Failures never reveal whether the identifier or the secret was wrong.
func (s *Service) Login(ctx context.Context, email, password string, meta Metadata) (TokenPair, Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := s.gate(ctx, email, ratelimit.ActionLogin); err != nil {
		return TokenPair{}, Identity{}, err
	}
	if email == "" || password == "" {
		return TokenPair{}, Identity{}, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn a comparable amount of work on the miss path.
			VerifyPassword(dummyHash, password)
			return TokenPair{}, Identity{}, ErrInvalidCredentials
		}
		return TokenPair{}, Identity{}, err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return TokenPair{}, Identity{}, ErrInvalidCredentials
	}
	if user.Status != UserStatusActive {
		return TokenPair{}, Identity{}, ErrInvalidCredentials
	}

	identity := identityOf(user)
	now := s.now().UTC()
	sessionID := ids.New()
	refresh, refreshExp, err := s.codec.IssueRefresh(identity, sessionID)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	sess := &Session{
		ID:        sessionID,
		LineageID: sessionID, // the head anchors its own lineage
		UserID:    user.ID,
		TokenHash: hashToken(refresh),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return TokenPair{}, Identity{}, err
	}
	access, accessExp, err := s.codec.IssueAccess(identity)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, identity, nil
}

// Refresh rotates an active session and issues a fresh token pair.
// Presenting an already-rotated or revoked token is treated as evidence
// of theft: the whole lineage is revoked before the call fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta Metadata) (TokenPair, Identity, error) {
	claims, err := s.codec.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	if err := s.gate(ctx, claims.Subject, ratelimit.ActionRefresh); err != nil {
		return TokenPair{}, Identity{}, err
	}

	sessions := s.store.Sessions(ctx)
	sess, err := sessions.Find(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Identity{}, ErrSessionNotFound
		}
		return TokenPair{}, Identity{}, err
	}
	now := s.now().UTC()
	if sess.RevokedAt != nil || sess.ReplacedBy != nil {
		if err := sessions.RevokeLineage(ctx, sess.LineageID); err != nil {
			return TokenPair{}, Identity{}, err
		}
		return TokenPair{}, Identity{}, ErrSessionReuse
	}
	if sess.TokenHash != hashToken(refreshToken) {
		if err := sessions.RevokeLineage(ctx, sess.LineageID); err != nil {
			return TokenPair{}, Identity{}, err
		}
		return TokenPair{}, Identity{}, ErrSessionReuse
	}
	if !now.Before(sess.ExpiresAt) {
		return TokenPair{}, Identity{}, ErrTokenExpired
	}

	user, err := s.store.Users(ctx).Find(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Identity{}, ErrUnauthenticated
		}
		return TokenPair{}, Identity{}, err
	}
	if user.Status != UserStatusActive {
		if err := sessions.RevokeLineage(ctx, sess.LineageID); err != nil {
			return TokenPair{}, Identity{}, err
		}
		return TokenPair{}, Identity{}, ErrUnauthenticated
	}

	identity := identityOf(user)
	nextID := ids.New()
	refresh, refreshExp, err := s.codec.IssueRefresh(identity, nextID)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	next := &Session{
		ID:        nextID,
		LineageID: sess.LineageID,
		UserID:    user.ID,
		TokenHash: hashToken(refresh),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := sessions.Rotate(ctx, sess.ID, next); err != nil {
		if errors.Is(err, ErrRotationConflict) {
			// Lost a race against another rotation of the same session.
			// Losing must never look like success.
			if err := sessions.RevokeLineage(ctx, sess.LineageID); err != nil {
				return TokenPair{}, Identity{}, err
			}
			return TokenPair{}, Identity{}, ErrSessionReuse
		}
		return TokenPair{}, Identity{}, err
	}
	access, accessExp, err := s.codec.IssueAccess(identity)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, identity, nil
}

// Logout revokes the lineage the presented refresh token belongs to.
// Idempotent: revoking an already-revoked lineage, or presenting an
// expired token, is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil
		}
		return ErrUnauthenticated
	}
	sessions := s.store.Sessions(ctx)
	sess, err := sessions.Find(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return sessions.RevokeLineage(ctx, sess.LineageID)
}

// LogoutAll revokes every active session the user holds.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.store.Sessions(ctx).RevokeAllForUser(ctx, userID)
}

// ResolveIdentity verifies an access token through the codec only. It
// never touches the session store: access tokens are stateless, so this
// path never blocks on persistence.
func (s *Service) ResolveIdentity(accessToken string) (Identity, error) {
	claims, err := s.codec.Verify(accessToken, TokenKindAccess)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return claims.Identity(), nil
}

// ActiveSessions lists the user's live sessions for the account page.
func (s *Service) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	return s.store.Sessions(ctx).ListActiveByUser(ctx, userID)
}

// ChangePassword replaces the credential after verifying the current
// secret, then revokes every session the user holds.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return err
	}
	if !VerifyPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.store.Sessions(ctx).RevokeAllForUser(ctx, userID)
}

// RequestPasswordReset consumes the reset budget for the identifier.
// The outcome never reveals whether the account exists; delivery of the
// reset message is a collaborator outside this subsystem.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta Metadata) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := s.gate(ctx, email, ratelimit.ActionPasswordReset); err != nil {
		return err
	}
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if _, err := s.store.Users(ctx).FindByEmail(ctx, email); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// gate consumes one point from the limiter. Counter-store errors are
// swallowed here: the limiter already answered allow in that case.
func (s *Service) gate(ctx context.Context, identifier string, action ratelimit.Action) error {
	res, _ := s.limiter.Check(ctx, identifier, action)
	if !res.Allowed {
		return &ratelimit.Error{Action: action, Limit: res.Limit, ResetAt: res.ResetAt}
	}
	return nil
}

func identityOf(u *User) Identity {
	return Identity{
		UserID:         u.ID,
		Role:           u.Role,
		FacilityID:     u.FacilityID,
		ManufacturerID: u.ManufacturerID,
	}
}

func clientKey(meta Metadata) string {
	if strings.TrimSpace(meta.IP) != "" {
		return meta.IP
	}
	return "unknown"
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
