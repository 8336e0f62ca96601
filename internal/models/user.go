package models

import "time"

// Roles recognised by the platform.
const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleTutor   = "tutor"
	RoleStudent = "student"
)

// Presence states.
const (
	Online  = "online"
	Offline = "offline"
)

// Privileged reports whether role bypasses post moderation.
func Privileged(role string) bool {
	switch role {
	case RoleAdmin, RoleStaff, RoleTutor:
		return true
	}
	return false
}

// User is the durable user row. Status and LastActive are the authoritative
// presence fields.
type User struct {
	ID         string     `db:"id" json:"_id"`
	Username   string     `db:"username" json:"username"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	Avatar     string     `db:"avatar" json:"avatar,omitempty"`
	Role       string     `db:"role" json:"role"`
	Status     string     `db:"status" json:"status"`
	LastActive *time.Time `db:"last_active" json:"lastActive,omitempty"`
	IsBlocked  bool       `db:"is_blocked" json:"is_blocked"`
}

// Presence is the realtime mirror of a user's status with denormalized
// display fields.
type Presence struct {
	Status     string `json:"status"`
	LastActive int64  `json:"lastActive"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Avatar     string `json:"avatar,omitempty"`
}
