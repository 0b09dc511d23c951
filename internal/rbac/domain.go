package rbac

import "time"

// Role represents a named bundle of permissions assignable to a user.
type Role struct {
	ID          int64
	Name        string
	Description string
	Permissions []Permission
	MemberCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability in "category:action" form.
type Permission struct {
	ID          int64
	Name        string
	Description string
	RoleCount   int
}

// AdminRoleName is the role protected from deletion.
const AdminRoleName = "admin"

// GuestRoleName is the default role assigned to new OAuth accounts.
const GuestRoleName = "guest"

// GuestRoleDescription documents the self-provisioned guest role.
const GuestRoleDescription = "Default role for new users with limited access"
