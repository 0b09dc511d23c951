package users

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eventdesk/eventdesk/internal/platform/httpx"
	"github.com/eventdesk/eventdesk/internal/shared"
)

type stubUsersRepo struct {
	users     map[int64]User
	updateErr error
	updated   map[int64]UpdateParams
	deletedID int64
}

func newStubUsersRepo(users ...User) *stubUsersRepo {
	repo := &stubUsersRepo{users: map[int64]User{}, updated: map[int64]UpdateParams{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (s *stubUsersRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubUsersRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubUsersRepo) UpdateUser(ctx context.Context, id int64, params UpdateParams) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.users[id]; !ok {
		return shared.ErrNotFound
	}
	s.updated[id] = params
	u := s.users[id]
	u.Name = params.Name
	u.Email = params.Email
	u.RoleID = params.RoleID
	s.users[id] = u
	return nil
}

func (s *stubUsersRepo) DeleteUser(ctx context.Context, id int64) error {
	if _, ok := s.users[id]; !ok {
		return shared.ErrNotFound
	}
	s.deletedID = id
	delete(s.users, id)
	return nil
}

func roleID(id int64) *int64 { return &id }

func TestUpdateUserChangesFields(t *testing.T) {
	repo := newStubUsersRepo(User{ID: 2, Name: "Old", Email: "old@example.com", RoleID: roleID(3), RoleName: "user"})
	svc := NewService(repo)

	user, err := svc.UpdateUser(context.Background(), 1, 2, UpdateParams{Name: "New", Email: "new@example.com", RoleID: roleID(4)})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if user.Name != "New" || user.Email != "new@example.com" {
		t.Fatalf("unexpected result: %+v", user)
	}
}

func TestUpdateUserRejectsAdminSelfRoleChange(t *testing.T) {
	repo := newStubUsersRepo(User{ID: 1, Name: "Root", Email: "root@example.com", RoleID: roleID(1), RoleName: "admin"})
	svc := NewService(repo)

	_, err := svc.UpdateUser(context.Background(), 1, 1, UpdateParams{Name: "Root", Email: "root@example.com", RoleID: roleID(2)})
	if !errors.Is(err, httpx.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(repo.updated) != 0 {
		t.Fatalf("update must not reach the repository")
	}
}

func TestUpdateUserAllowsAdminSelfEditKeepingRole(t *testing.T) {
	repo := newStubUsersRepo(User{ID: 1, Name: "Root", Email: "root@example.com", RoleID: roleID(1), RoleName: "admin"})
	svc := NewService(repo)

	_, err := svc.UpdateUser(context.Background(), 1, 1, UpdateParams{Name: "Renamed", Email: "root@example.com", RoleID: roleID(1)})
	if err != nil {
		t.Fatalf("self edit without role change should pass: %v", err)
	}
}

func TestUpdateUserAllowsRoleChangeByOtherActor(t *testing.T) {
	repo := newStubUsersRepo(User{ID: 5, Name: "Member", Email: "m@example.com", RoleID: roleID(3), RoleName: "user"})
	svc := NewService(repo)

	_, err := svc.UpdateUser(context.Background(), 9, 5, UpdateParams{Name: "Member", Email: "m@example.com", RoleID: roleID(2)})
	if err != nil {
		t.Fatalf("role change by another actor should pass: %v", err)
	}
}

func TestUpdateUserValidatesInput(t *testing.T) {
	svc := NewService(newStubUsersRepo())
	_, err := svc.UpdateUser(context.Background(), 1, 2, UpdateParams{Name: "", Email: "x@example.com"})
	if !errors.Is(err, httpx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateUserDuplicateEmail(t *testing.T) {
	repo := newStubUsersRepo(User{ID: 2, Name: "A", Email: "a@example.com"})
	repo.updateErr = &pgconn.PgError{Code: "23505"}
	svc := NewService(repo)

	_, err := svc.UpdateUser(context.Background(), 1, 2, UpdateParams{Name: "A", Email: "taken@example.com"})
	if !errors.Is(err, httpx.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestDeleteUserRefusesSelf(t *testing.T) {
	repo := newStubUsersRepo(User{ID: 7, Name: "Self", Email: "self@example.com"})
	svc := NewService(repo)

	err := svc.DeleteUser(context.Background(), 7, 7)
	if !errors.Is(err, httpx.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if repo.deletedID != 0 {
		t.Fatalf("user must not be deleted")
	}
}

func TestDeleteUserRemovesOtherAccount(t *testing.T) {
	repo := newStubUsersRepo(User{ID: 8, Name: "Other", Email: "other@example.com"})
	svc := NewService(repo)

	if err := svc.DeleteUser(context.Background(), 1, 8); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if repo.deletedID != 8 {
		t.Fatalf("expected user 8 deleted, got %d", repo.deletedID)
	}
}

func TestDeleteUserUnknownID(t *testing.T) {
	svc := NewService(newStubUsersRepo())
	err := svc.DeleteUser(context.Background(), 1, 404)
	if !errors.Is(err, httpx.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
