package models

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusLocked  Status = "LOCKED"
	StatusDeleted Status = "DELETED"
)

// User represents an account as stored in the user store.
type User struct {
	ID               int64
	LoginID          string
	Email            string
	Name             string
	PassHash         []byte
	Role             Role
	Status           Status
	FailedLoginCount int
	LastLoginAt      *time.Time
	CreatedAt        time.Time
}
