package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/eventdesk/eventdesk/internal/platform/httpx"
	"github.com/eventdesk/eventdesk/internal/rbac"
	"github.com/eventdesk/eventdesk/internal/shared"
)

type stubUserRepo struct {
	usersByEmail map[string]*User
	usersByID    map[int64]*User
	createErrs   []error
	created      []CreateUserParams
	assigned     map[int64]int64
	verifiedID   int64
	resetToken   string
	resetUserID  int64
	newPassword  string
	nextID       int64
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		usersByEmail: map[string]*User{},
		usersByID:    map[int64]*User{},
		assigned:     map[int64]int64{},
		nextID:       1,
	}
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if u, ok := s.usersByEmail[email]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

func (s *stubUserRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	if u, ok := s.usersByID[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

func (s *stubUserRepo) Create(ctx context.Context, params CreateUserParams) (*User, error) {
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s.created = append(s.created, params)
	user := &User{
		ID:                s.nextID,
		Name:              params.Name,
		Email:             params.Email,
		PasswordHash:      params.PasswordHash,
		RoleID:            params.RoleID,
		VerificationToken: params.VerificationToken,
	}
	s.nextID++
	s.usersByEmail[user.Email] = user
	s.usersByID[user.ID] = user
	return user, nil
}

func (s *stubUserRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	s.assigned[userID] = roleID
	return nil
}

func (s *stubUserRepo) FindByVerificationToken(ctx context.Context, token string) (*User, error) {
	for _, u := range s.usersByID {
		if u.VerificationToken != nil && *u.VerificationToken == token {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubUserRepo) MarkEmailVerified(ctx context.Context, userID int64) error {
	s.verifiedID = userID
	return nil
}

func (s *stubUserRepo) SetResetToken(ctx context.Context, userID int64, token string, expiry time.Time) error {
	s.resetToken = token
	s.resetUserID = userID
	if u, ok := s.usersByID[userID]; ok {
		u.ResetToken = &token
		exp := expiry
		u.ResetTokenExpiry = &exp
	}
	return nil
}

func (s *stubUserRepo) FindByResetToken(ctx context.Context, token string) (*User, error) {
	for _, u := range s.usersByID {
		if u.ResetToken != nil && *u.ResetToken == token {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubUserRepo) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	s.newPassword = passwordHash
	return nil
}

func (s *stubUserRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (s *stubUserRepo) DeleteSession(ctx context.Context, id string) error {
	return nil
}

type stubRoleDirectory struct {
	roles        map[string]rbac.Role
	guestEnsured bool
}

func (s *stubRoleDirectory) GetRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	if role, ok := s.roles[name]; ok {
		return role, nil
	}
	return rbac.Role{}, httpx.ErrNotFound
}

func (s *stubRoleDirectory) EnsureGuestRole(ctx context.Context) (rbac.Role, error) {
	s.guestEnsured = true
	if role, ok := s.roles["guest"]; ok {
		return role, nil
	}
	role := rbac.Role{ID: 40, Name: "guest"}
	s.roles["guest"] = role
	return role, nil
}

type recordingMailer struct {
	to       []string
	subjects []string
}

func (m *recordingMailer) EnqueueMail(ctx context.Context, to, subject, body string) error {
	m.to = append(m.to, to)
	m.subjects = append(m.subjects, subject)
	return nil
}

func hashOf(t *testing.T, password string) *string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	str := string(hash)
	return &str
}

func TestAuthenticate(t *testing.T) {
	repo := newStubUserRepo()
	repo.usersByEmail["ana@example.com"] = &User{
		ID: 1, Name: "Ana", Email: "ana@example.com",
		PasswordHash: hashOf(t, "correct-horse"), RoleName: "admin",
	}
	repo.usersByEmail["oauth@example.com"] = &User{ID: 2, Email: "oauth@example.com"}
	svc := NewService(repo, &stubRoleDirectory{roles: map[string]rbac.Role{}}, nil, nil)

	identity, err := svc.Authenticate(context.Background(), "ana@example.com", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, int64(1), identity.ID)
	require.Equal(t, "admin", identity.RoleName)

	_, err = svc.Authenticate(context.Background(), "ana@example.com", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "nobody@example.com", "whatever")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	// OAuth-only accounts have no hash and must fail identically.
	_, err = svc.Authenticate(context.Background(), "oauth@example.com", "anything")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	repo := newStubUserRepo()
	roles := &stubRoleDirectory{roles: map[string]rbac.Role{"user": {ID: 10, Name: "user"}}}
	mailer := &recordingMailer{}
	svc := NewService(repo, roles, mailer, nil)

	identity, err := svc.Register(context.Background(), "Ben", "ben@example.com", "sup3rsecret")
	require.NoError(t, err)
	require.NotZero(t, identity.ID)
	require.Len(t, repo.created, 1)
	require.NotNil(t, repo.created[0].RoleID)
	require.Equal(t, int64(10), *repo.created[0].RoleID)
	require.NotNil(t, repo.created[0].VerificationToken)
	require.Equal(t, []string{"ben@example.com"}, mailer.to)
}

func TestRegisterFallsBackToGuestRole(t *testing.T) {
	repo := newStubUserRepo()
	roles := &stubRoleDirectory{roles: map[string]rbac.Role{}}
	svc := NewService(repo, roles, nil, nil)

	_, err := svc.Register(context.Background(), "Cam", "cam@example.com", "sup3rsecret")
	require.NoError(t, err)
	require.True(t, roles.guestEnsured)
	require.NotNil(t, repo.created[0].RoleID)
	require.Equal(t, int64(40), *repo.created[0].RoleID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := newStubUserRepo()
	repo.usersByEmail["dup@example.com"] = &User{ID: 5, Email: "dup@example.com"}
	repo.createErrs = []error{uniqueViolation()}
	roles := &stubRoleDirectory{roles: map[string]rbac.Role{"user": {ID: 10, Name: "user"}}}
	svc := NewService(repo, roles, nil, nil)

	_, err := svc.Register(context.Background(), "Dup", "dup@example.com", "sup3rsecret")
	require.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestRegisterRetriesTokenCollision(t *testing.T) {
	repo := newStubUserRepo()
	repo.createErrs = []error{uniqueViolation()}
	roles := &stubRoleDirectory{roles: map[string]rbac.Role{"user": {ID: 10, Name: "user"}}}
	svc := NewService(repo, roles, nil, nil)

	// The email does not exist, so the unique violation is treated as a
	// token collision and the insert runs again with a fresh token.
	identity, err := svc.Register(context.Background(), "Eve", "eve@example.com", "sup3rsecret")
	require.NoError(t, err)
	require.NotZero(t, identity.ID)
	require.Len(t, repo.created, 1)
}

func TestRegisterValidatesInput(t *testing.T) {
	svc := NewService(newStubUserRepo(), &stubRoleDirectory{roles: map[string]rbac.Role{}}, nil, nil)
	_, err := svc.Register(context.Background(), "", "x@example.com", "password")
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCompleteOAuthSignInCreatesAccountWithGuestRole(t *testing.T) {
	repo := newStubUserRepo()
	roles := &stubRoleDirectory{roles: map[string]rbac.Role{}}
	svc := NewService(repo, roles, nil, nil)

	identity, err := svc.CompleteOAuthSignIn(context.Background(), "oauth@example.com", "OAuth Person")
	require.NoError(t, err)
	require.Equal(t, "guest", identity.RoleName)
	require.Len(t, repo.created, 1)
	require.Nil(t, repo.created[0].PasswordHash)
	require.Equal(t, rbac.Role{ID: 40, Name: "guest"}, roles.roles["guest"])
	require.Equal(t, int64(40), repo.assigned[identity.ID])
}

func TestCompleteOAuthSignInHealsMissingRole(t *testing.T) {
	repo := newStubUserRepo()
	repo.usersByEmail["old@example.com"] = &User{ID: 9, Email: "old@example.com"}
	repo.usersByID[9] = repo.usersByEmail["old@example.com"]
	roles := &stubRoleDirectory{roles: map[string]rbac.Role{"guest": {ID: 40, Name: "guest"}}}
	svc := NewService(repo, roles, nil, nil)

	identity, err := svc.CompleteOAuthSignIn(context.Background(), "old@example.com", "Old")
	require.NoError(t, err)
	require.Equal(t, "guest", identity.RoleName)
	require.Equal(t, int64(40), repo.assigned[9])
}

func TestCompleteOAuthSignInKeepsExistingRole(t *testing.T) {
	roleID := int64(3)
	repo := newStubUserRepo()
	repo.usersByEmail["mod@example.com"] = &User{ID: 4, Email: "mod@example.com", RoleID: &roleID, RoleName: "moderator"}
	roles := &stubRoleDirectory{roles: map[string]rbac.Role{}}
	svc := NewService(repo, roles, nil, nil)

	identity, err := svc.CompleteOAuthSignIn(context.Background(), "mod@example.com", "Mod")
	require.NoError(t, err)
	require.Equal(t, "moderator", identity.RoleName)
	require.False(t, roles.guestEnsured)
}

func TestVerifyEmail(t *testing.T) {
	token := "tok-123"
	repo := newStubUserRepo()
	repo.usersByID[8] = &User{ID: 8, Email: "v@example.com", VerificationToken: &token}
	svc := NewService(repo, &stubRoleDirectory{roles: map[string]rbac.Role{}}, nil, nil)

	require.NoError(t, svc.VerifyEmail(context.Background(), "tok-123"))
	require.Equal(t, int64(8), repo.verifiedID)

	err := svc.VerifyEmail(context.Background(), "bogus")
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	repo := newStubUserRepo()
	repo.usersByEmail["known@example.com"] = &User{ID: 11, Email: "known@example.com"}
	repo.usersByID[11] = repo.usersByEmail["known@example.com"]
	mailer := &recordingMailer{}
	svc := NewService(repo, &stubRoleDirectory{roles: map[string]rbac.Role{}}, mailer, nil)

	require.NoError(t, svc.ForgotPassword(context.Background(), "known@example.com"))
	require.NotEmpty(t, repo.resetToken)
	require.Len(t, mailer.to, 1)

	// Unknown account: same nil error, no mail.
	require.NoError(t, svc.ForgotPassword(context.Background(), "unknown@example.com"))
	require.Len(t, mailer.to, 1)
}

func TestResetPassword(t *testing.T) {
	token := "reset-tok"
	future := time.Now().Add(30 * time.Minute)
	repo := newStubUserRepo()
	repo.usersByID[12] = &User{ID: 12, Email: "r@example.com", ResetToken: &token, ResetTokenExpiry: &future}
	svc := NewService(repo, &stubRoleDirectory{roles: map[string]rbac.Role{}}, nil, nil)

	require.NoError(t, svc.ResetPassword(context.Background(), "reset-tok", "new-password"))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.newPassword), []byte("new-password")))
}

func TestResetPasswordExpiredToken(t *testing.T) {
	token := "stale-tok"
	past := time.Now().Add(-time.Minute)
	repo := newStubUserRepo()
	repo.usersByID[13] = &User{ID: 13, Email: "s@example.com", ResetToken: &token, ResetTokenExpiry: &past}
	svc := NewService(repo, &stubRoleDirectory{roles: map[string]rbac.Role{}}, nil, nil)

	err := svc.ResetPassword(context.Background(), "stale-tok", "new-password")
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Empty(t, repo.newPassword)
}

func TestRoleNameForUser(t *testing.T) {
	repo := newStubUserRepo()
	repo.usersByID[2] = &User{ID: 2, RoleName: "moderator"}
	svc := NewService(repo, &stubRoleDirectory{roles: map[string]rbac.Role{}}, nil, nil)

	name, err := svc.RoleNameForUser(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "moderator", name)

	_, err = svc.RoleNameForUser(context.Background(), 999)
	require.Error(t, err)
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}
