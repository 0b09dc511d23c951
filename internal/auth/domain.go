package auth

import "time"

// User represents a user account. PasswordHash is nil for accounts created
// through an OAuth provider.
type User struct {
	ID                int64
	Name              string
	Email             string
	PasswordHash      *string
	RoleID            *int64
	RoleName          string
	EmailVerifiedAt   *time.Time
	VerificationToken *string
	ResetToken        *string
	ResetTokenExpiry  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Identity is the result of a successful credential check, safe to expose to
// the session layer.
type Identity struct {
	ID       int64
	Name     string
	Email    string
	RoleName string
}
