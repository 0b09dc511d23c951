package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventdesk/eventdesk/internal/platform/db"
	"github.com/eventdesk/eventdesk/internal/platform/httpx"
	"github.com/eventdesk/eventdesk/internal/rbac"
	"github.com/eventdesk/eventdesk/internal/shared"
)

// Service handles user management business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser fetches a single user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, fmt.Errorf("%w: user", httpx.ErrNotFound)
		}
		return User{}, err
	}
	return user, nil
}

// UpdateUser changes name, email and role assignment. The acting admin
// cannot change their own role.
func (s *Service) UpdateUser(ctx context.Context, actorID, id int64, params UpdateParams) (User, error) {
	if params.Name == "" || params.Email == "" {
		return User{}, fmt.Errorf("%w: name and email are required", httpx.ErrValidation)
	}
	existing, err := s.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if actorID == id && existing.RoleName == rbac.AdminRoleName && !sameRole(existing.RoleID, params.RoleID) {
		return User{}, fmt.Errorf("%w: admins cannot change their own role", httpx.ErrForbidden)
	}
	if err := s.repo.UpdateUser(ctx, id, params); err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: email is already in use by another user", httpx.ErrDuplicate)
		}
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, fmt.Errorf("%w: user", httpx.ErrNotFound)
		}
		return User{}, err
	}
	return s.GetUser(ctx, id)
}

// DeleteUser removes an account. Self-deletion is refused; session records
// disappear in the same transaction as the user row.
func (s *Service) DeleteUser(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return fmt.Errorf("%w: you cannot delete your own account", httpx.ErrForbidden)
	}
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: user", httpx.ErrNotFound)
		}
		return err
	}
	return nil
}

func sameRole(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
