package auth

import (
	"context"
	"database/sql"

	"devicewatch.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore       { return &userStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore { return &sessionStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, email, password_hash, role, facility_id, manufacturer_id, status, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, role, facility_id, manufacturer_id, status)
		 values($1,$2,$3,$4,nullif($5,''),nullif($6,''),$7)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.FacilityID, u.ManufacturerID, u.Status,
	)
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u            User
		facility     sql.NullString
		manufacturer sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &facility, &manufacturer, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.FacilityID = facility.String
	u.ManufacturerID = manufacturer.String
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *userStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, lineage_id, user_id, token_hash, issued_at, expires_at, revoked_at, replaced_by, ip, user_agent`

func (s *sessionStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, lineage_id, user_id, token_hash, issued_at, expires_at, ip, user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.LineageID, sess.UserID, sess.TokenHash,
		sess.IssuedAt, sess.ExpiresAt, sess.IP, sess.UserAgent,
	)
	return err
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		sess       Session
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.LineageID, &sess.UserID, &sess.TokenHash,
		&sess.IssuedAt, &sess.ExpiresAt, &revokedAt, &replacedBy, &sess.IP, &sess.UserAgent); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	if replacedBy.Valid {
		v := replacedBy.String
		sess.ReplacedBy = &v
	}
	return &sess, nil
}

func (s *sessionStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	return scanSession(row)
}

// Rotate marks the old session replaced and inserts its successor in one
// transaction. The update is guarded on the old record still being
// unrotated and unrevoked, which is what makes concurrent refreshes on
// the same session resolve to exactly one winner.
func (s *sessionStore) Rotate(ctx context.Context, oldID string, next *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update sessions set replaced_by=$2
		 where id=$1 and replaced_by is null and revoked_at is null`,
		oldID, next.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRotationConflict
	}
	if _, err := tx.ExecContext(ctx,
		`insert into sessions(id, lineage_id, user_id, token_hash, issued_at, expires_at, ip, user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		next.ID, next.LineageID, next.UserID, next.TokenHash,
		next.IssuedAt, next.ExpiresAt, next.IP, next.UserAgent,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sessionStore) RevokeLineage(ctx context.Context, lineageID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=now() where lineage_id=$1 and revoked_at is null`,
		lineageID,
	)
	return err
}

func (s *sessionStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=now() where user_id=$1 and revoked_at is null`,
		userID,
	)
	return err
}

func (s *sessionStore) ListActiveByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions
		 where user_id=$1 and revoked_at is null and replaced_by is null and expires_at > now()
		 order by issued_at desc`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
