package models

import (
	"strings"
	"time"
)

type Platform string

const (
	PlatformWeb     Platform = "WEB"
	PlatformAndroid Platform = "ANDROID"
	PlatformIOS     Platform = "IOS"
)

// ParsePlatform maps a client-supplied platform string onto a known value.
// Unknown or empty values fall back to WEB.
func ParsePlatform(s string) Platform {
	switch Platform(strings.ToUpper(s)) {
	case PlatformWeb, PlatformAndroid, PlatformIOS:
		return Platform(strings.ToUpper(s))
	}
	return PlatformWeb
}

// Device is a client installation a user has logged in from,
// unique per (UserID, DeviceID).
type Device struct {
	ID         int64
	UserID     int64
	DeviceID   string
	DeviceName string
	Platform   Platform
	LastSeenAt *time.Time
	CreatedAt  time.Time
}
