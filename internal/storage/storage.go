package storage

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")

	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionConsumed is returned when the conditional revoke of a
	// session row matched nothing: a concurrent caller already consumed it.
	ErrSessionConsumed = errors.New("session already consumed")

	ErrDeviceNotFound = errors.New("device not found")

	ErrResetTokenNotFound = errors.New("reset token not found or expired")
	ErrResetTokenUsed     = errors.New("reset token already used")
)
