package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPGStore(db), mock
}

func TestPGUserCreateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("insert into users").
		WithArgs("usr-1", "alice", "alice@example.com", "hash", RoleUser, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

	err := store.Users(ctx).Create(ctx, &User{
		ID: "usr-1", Username: "alice", Email: "alice@example.com", PasswordHash: "hash", Role: RoleUser, CreatedAt: time.Now(),
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPGUserFind(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "created_at", "last_login", "profile"}).
		AddRow("usr-1", "alice", "alice@example.com", "hash", RoleAdmin, created, nil, []byte(`{"organizationName":"Acme"}`))
	mock.ExpectQuery("select .* from users where username=\\$1").WithArgs("alice").WillReturnRows(rows)
	mock.ExpectQuery("select .* from users where id=\\$1").WithArgs("usr-missing").WillReturnError(sql.ErrNoRows)

	u, err := store.Users(ctx).FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if u.Role != RoleAdmin || u.LastLogin != nil || u.Profile.OrganizationName != "Acme" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := store.Users(ctx).Find(ctx, "usr-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGUserUpdatePasswordMissing(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update users set password_hash").WithArgs("usr-1", "new").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Users(ctx).UpdatePassword(ctx, "usr-1", "new"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGResetConsume(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "token", "user_id", "expires_at", "created_at"}).
		AddRow("rst-1", "abc", "usr-1", now.Add(time.Hour), now)
	mock.ExpectQuery("delete from password_reset_tokens where token=\\$1 and expires_at > \\$2").
		WithArgs("abc", now).WillReturnRows(rows)
	mock.ExpectQuery("delete from password_reset_tokens").
		WithArgs("abc", now).WillReturnError(sql.ErrNoRows)

	tok, err := store.ResetTokens(ctx).Consume(ctx, "abc", now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if tok.UserID != "usr-1" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if _, err := store.ResetTokens(ctx).Consume(ctx, "abc", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second consume should miss, got %v", err)
	}
}

func TestPGPurgeExpired(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec("delete from password_reset_tokens where expires_at <= \\$1").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from refresh_tokens where expires_at <= \\$1").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.ResetTokens(ctx).PurgeExpired(ctx, now)
	if err != nil || n != 3 {
		t.Fatalf("reset purge: %d %v", n, err)
	}
	n, err = store.RefreshTokens(ctx).PurgeExpired(ctx, now)
	if err != nil || n != 2 {
		t.Fatalf("refresh purge: %d %v", n, err)
	}
}

func TestPGRefreshRevoke(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update refresh_tokens set revoked=true where id=\\$1").WithArgs("jti-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked=true where user_id=\\$1").WithArgs("usr-1").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectQuery("select id, user_id, expires_at, created_at, revoked from refresh_tokens").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at", "created_at", "revoked"}).
			AddRow("jti-1", "usr-1", time.Now().Add(time.Hour), time.Now(), true))

	if err := store.RefreshTokens(ctx).Revoke(ctx, "jti-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := store.RefreshTokens(ctx).RevokeByUser(ctx, "usr-1"); err != nil {
		t.Fatalf("RevokeByUser: %v", err)
	}
	tok, err := store.RefreshTokens(ctx).Find(ctx, "jti-1")
	if err != nil || !tok.Revoked {
		t.Fatalf("expected revoked record, got %+v %v", tok, err)
	}
}
