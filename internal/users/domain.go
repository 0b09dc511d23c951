package users

import "time"

// User represents a user account for management.
type User struct {
	ID        int64
	Name      string
	Email     string
	RoleID    *int64
	RoleName  string
	Verified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdateParams collects mutable user fields. A nil RoleID clears the role.
type UpdateParams struct {
	Name   string
	Email  string
	RoleID *int64
}
