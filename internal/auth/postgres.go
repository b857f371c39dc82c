package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

const pgUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL through the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) ResetTokens(context.Context) ResetTokenStore     { return &resetStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore { return &refreshStore{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, username, email, password_hash, role, created_at, last_login, profile`

func (s *userStore) Create(ctx context.Context, u *User) error {
	profile, err := json.Marshal(u.Profile)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into users(id, username, email, password_hash, role, created_at, profile) values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.CreatedAt, profile,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *userStore) scan(row *sql.Row) (*User, error) {
	var (
		u         User
		lastLogin sql.NullTime
		profile   []byte
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &lastLogin, &profile); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &u.Profile); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return s.scan(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.scan(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where username=$1`, username))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scan(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email)=lower($1)`, email))
}

func (s *userStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login=$2 where id=$1`, userID, at)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `update users set password_hash=$2 where id=$1`, userID, passwordHash)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (s *userStore) UpdateProfile(ctx context.Context, userID string, profile Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update users set profile=$2 where id=$1`, userID, data)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// Reset token store --------------------------------------------------------
type resetStore struct{ db *sql.DB }

func (s *resetStore) Create(ctx context.Context, tok *PasswordResetToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into password_reset_tokens(id, token, user_id, expires_at, created_at) values($1,$2,$3,$4,$5)`,
		tok.ID, tok.Token, tok.UserID, tok.ExpiresAt, tok.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *resetStore) Consume(ctx context.Context, token string, now time.Time) (*PasswordResetToken, error) {
	row := s.db.QueryRowContext(ctx,
		`delete from password_reset_tokens where token=$1 and expires_at > $2
		 returning id, token, user_id, expires_at, created_at`, token, now)
	var tok PasswordResetToken
	if err := row.Scan(&tok.ID, &tok.Token, &tok.UserID, &tok.ExpiresAt, &tok.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *resetStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from password_reset_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Refresh token store ------------------------------------------------------
type refreshStore struct{ db *sql.DB }

func (s *refreshStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, expires_at, created_at, revoked) values($1,$2,$3,$4,$5)`,
		tok.ID, tok.UserID, tok.ExpiresAt, tok.CreatedAt, tok.Revoked,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *refreshStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, expires_at, created_at, revoked from refresh_tokens where id=$1`, id)
	var tok RefreshToken
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *refreshStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (s *refreshStore) RevokeByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked=true where user_id=$1 and not revoked`, userID)
	return err
}

func (s *refreshStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
