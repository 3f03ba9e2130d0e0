package models

import "time"

// RefreshSession is one link in a device-scoped refresh token lineage.
// At most one unrevoked, unexpired row exists per (UserID, DeviceID);
// every rotation revokes the current row and appends a new one.
type RefreshSession struct {
	ID        int64
	UserID    int64
	DeviceID  string
	Token     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}
