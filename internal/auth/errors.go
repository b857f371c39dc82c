package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")

	ErrTokenExpired      = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrTokenInvalid      = fmt.Errorf("%w: token invalid", ErrUnauthorized)
	ErrInvalidResetToken = fmt.Errorf("%w: invalid or expired reset token", ErrUnauthorized)
)
