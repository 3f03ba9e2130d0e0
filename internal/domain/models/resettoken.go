package models

import "time"

// ResetToken is a single-use password-reset credential. Only one live
// (unused, unexpired) token may exist per user.
type ResetToken struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

func (t *ResetToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *ResetToken) IsValid(now time.Time) bool {
	return !t.Used && !t.IsExpired(now)
}
