package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Sessions(ctx context.Context) SessionStore
}

// UserStore manages portal accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// SessionStore manages refresh-token lineages.
//
// Rotate must be a single transactional step: mark old as replaced by new
// and insert the new record, observing the old record's state with
// compare-and-swap semantics. Two rotations racing on the same session
// must yield exactly one winner; the loser gets ErrRotationConflict.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Rotate(ctx context.Context, oldID string, next *Session) error
	RevokeLineage(ctx context.Context, lineageID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	ListActiveByUser(ctx context.Context, userID string) ([]*Session, error)
}
