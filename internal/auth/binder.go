package auth

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/eventdesk/eventdesk/internal/shared"
)

// Binder keeps the session's cached role name in sync with the user record.
// A session issued before a role grant picks the role up on its next request
// without forcing re-authentication.
type Binder struct {
	service *Service
	logger  *slog.Logger
}

// NewBinder constructs a Binder.
func NewBinder(service *Service, logger *slog.Logger) *Binder {
	return &Binder{service: service, logger: logger}
}

// Refresh re-fetches the role name when the session carries a user without
// one. Lookup failures leave the session untouched.
func (b *Binder) Refresh(ctx context.Context, sess *shared.Session) {
	if b == nil || sess == nil {
		return
	}
	if sess.User() == "" || sess.Role() != "" {
		return
	}
	userID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return
	}
	roleName, err := b.service.RoleNameForUser(ctx, userID)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("refresh session role", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return
	}
	if roleName != "" {
		sess.SetRole(roleName)
	}
}
