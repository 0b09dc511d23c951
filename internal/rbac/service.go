package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/eventdesk/eventdesk/internal/platform/db"
	"github.com/eventdesk/eventdesk/internal/platform/httpx"
	"github.com/eventdesk/eventdesk/internal/shared"
)

// permissionNamePattern is the public contract for permission names:
// lowercase segment, colon, lowercase segment.
var permissionNamePattern = regexp.MustCompile(`^[a-z]+:[a-z]+$`)

// Service orchestrates role and permission operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// ListRoles returns all roles with their permission sets and member counts.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a single role.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Role{}, fmt.Errorf("%w: role", httpx.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// GetRoleByName fetches a role by its unique name.
func (s *Service) GetRoleByName(ctx context.Context, name string) (Role, error) {
	role, err := s.repo.GetRoleByName(ctx, name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Role{}, fmt.Errorf("%w: role %q", httpx.ErrNotFound, name)
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole creates a role with its initial permission set. A role cannot
// exist without at least one permission.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissionIDs []int64) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", httpx.ErrValidation)
	}
	if len(permissionIDs) == 0 {
		return Role{}, fmt.Errorf("%w: at least one permission is required", httpx.ErrValidation)
	}
	ids := uniqueIDs(permissionIDs)
	if err := s.verifyPermissionIDs(ctx, ids); err != nil {
		return Role{}, err
	}
	role, err := s.repo.CreateRole(ctx, name, strings.TrimSpace(description), ids)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, fmt.Errorf("%w: a role with this name already exists", httpx.ErrDuplicate)
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole replaces a role's name, description and full permission set
// within one transaction.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string, permissionIDs []int64) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", httpx.ErrValidation)
	}
	if len(permissionIDs) == 0 {
		return Role{}, fmt.Errorf("%w: at least one permission is required", httpx.ErrValidation)
	}
	ids := uniqueIDs(permissionIDs)
	if err := s.verifyPermissionIDs(ctx, ids); err != nil {
		return Role{}, err
	}
	if err := s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description), ids); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Role{}, fmt.Errorf("%w: role", httpx.ErrNotFound)
		}
		if db.IsUniqueViolation(err) {
			return Role{}, fmt.Errorf("%w: a role with this name already exists", httpx.ErrDuplicate)
		}
		return Role{}, err
	}
	return s.GetRole(ctx, id)
}

// DeleteRole removes a role unless it is the protected admin role. Member
// users lose their role reference in the same transaction.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.Name == AdminRoleName {
		return fmt.Errorf("%w: cannot delete the admin role", httpx.ErrForbidden)
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: role", httpx.ErrNotFound)
		}
		return err
	}
	return nil
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GetPermission fetches a single permission.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	perm, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Permission{}, fmt.Errorf("%w: permission", httpx.ErrNotFound)
		}
		return Permission{}, err
	}
	return perm, nil
}

// CreatePermission validates the name format and inserts the permission.
func (s *Service) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if err := validatePermissionName(name); err != nil {
		return Permission{}, err
	}
	perm, err := s.repo.CreatePermission(ctx, name, strings.TrimSpace(description))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Permission{}, fmt.Errorf("%w: a permission with this name already exists", httpx.ErrDuplicate)
		}
		return Permission{}, err
	}
	return perm, nil
}

// UpdatePermission renames a permission or changes its description.
func (s *Service) UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if err := validatePermissionName(name); err != nil {
		return Permission{}, err
	}
	if err := s.repo.UpdatePermission(ctx, id, name, strings.TrimSpace(description)); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Permission{}, fmt.Errorf("%w: permission", httpx.ErrNotFound)
		}
		if db.IsUniqueViolation(err) {
			return Permission{}, fmt.Errorf("%w: a permission with this name already exists", httpx.ErrDuplicate)
		}
		return Permission{}, err
	}
	return s.GetPermission(ctx, id)
}

// DeletePermission removes a permission and its role assignments unless the
// name belongs to the protected core set.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	perm, err := s.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if shared.IsCorePermission(perm.Name) {
		return fmt.Errorf("%w: cannot delete the core permission %q", httpx.ErrForbidden, perm.Name)
	}
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: permission", httpx.ErrNotFound)
		}
		return err
	}
	return nil
}

// UserPermissions resolves the set of permission names granted to a user
// through their role. Lookup failures degrade to an empty set so a transient
// database error can never widen access.
func (s *Service) UserPermissions(ctx context.Context, userID int64) []string {
	names, err := s.repo.UserPermissions(ctx, userID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("resolve user permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return nil
	}
	return names
}

// HasPermission reports whether the user's permission set contains name.
// Membership is exact-string, with no wildcard or hierarchy matching.
func (s *Service) HasPermission(ctx context.Context, userID int64, name string) bool {
	for _, granted := range s.UserPermissions(ctx, userID) {
		if granted == name {
			return true
		}
	}
	return false
}

// EnsureGuestRole returns the guest role, creating it with its minimal
// permission grant when absent. Safe to call repeatedly.
func (s *Service) EnsureGuestRole(ctx context.Context) (Role, error) {
	role, err := s.repo.GetRoleByName(ctx, GuestRoleName)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Role{}, err
	}

	var ids []int64
	if perm, err := s.repo.GetPermissionByName(ctx, shared.PermDashboardAccess); err == nil {
		ids = append(ids, perm.ID)
	}
	role, err = s.repo.CreateRole(ctx, GuestRoleName, GuestRoleDescription, ids)
	if err != nil {
		if db.IsUniqueViolation(err) {
			// Lost a race with a concurrent sign-in; the winner's row serves.
			return s.repo.GetRoleByName(ctx, GuestRoleName)
		}
		return Role{}, err
	}
	return role, nil
}

// verifyPermissionIDs expects a deduplicated ID list.
func (s *Service) verifyPermissionIDs(ctx context.Context, ids []int64) error {
	count, err := s.repo.CountPermissions(ctx, ids)
	if err != nil {
		return err
	}
	if count != len(ids) {
		return fmt.Errorf("%w: one or more permissions do not exist", httpx.ErrValidation)
	}
	return nil
}

func validatePermissionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: permission name is required", httpx.ErrValidation)
	}
	if !permissionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: permission name must match category:action in lowercase", httpx.ErrValidation)
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
