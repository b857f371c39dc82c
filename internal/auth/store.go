package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	ResetTokens(ctx context.Context) ResetTokenStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// UserStore manages users. Create enforces username and email uniqueness
// atomically and reports a clash as ErrAlreadyExists.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateProfile(ctx context.Context, userID string, profile Profile) error
}

// ResetTokenStore manages password reset tokens.
type ResetTokenStore interface {
	Create(ctx context.Context, tok *PasswordResetToken) error
	// Consume deletes and returns the token if it exists and expires after now.
	// Concurrent callers observe at most one success.
	Consume(ctx context.Context, token string, now time.Time) (*PasswordResetToken, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenStore manages refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	Revoke(ctx context.Context, id string) error
	RevokeByUser(ctx context.Context, userID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
