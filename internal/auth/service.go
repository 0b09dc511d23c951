package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/eventdesk/eventdesk/internal/platform/db"
	"github.com/eventdesk/eventdesk/internal/platform/httpx"
	"github.com/eventdesk/eventdesk/internal/rbac"
	"github.com/eventdesk/eventdesk/internal/shared"
)

const (
	defaultRoleName  = "user"
	resetTokenTTL    = time.Hour
	tokenByteLength  = 32
	tokenMaxAttempts = 3
)

// Mailer enqueues transactional email delivery. Implemented by jobs.Client.
type Mailer interface {
	EnqueueMail(ctx context.Context, to, subject, body string) error
}

// RoleDirectory exposes the role lookups the auth flows need.
// Implemented by rbac.Service.
type RoleDirectory interface {
	GetRoleByName(ctx context.Context, name string) (rbac.Role, error)
	EnsureGuestRole(ctx context.Context) (rbac.Role, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	roles  RoleDirectory
	mailer Mailer
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, roles RoleDirectory, mailer Mailer, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roles, mailer: mailer, logger: logger}
}

// Authenticate validates email/password credentials. Unknown accounts,
// OAuth-only accounts and wrong passwords are indistinguishable to callers.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return Identity{}, shared.ErrInvalidCredentials
	}
	if user.PasswordHash == nil {
		return Identity{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return Identity{}, shared.ErrInvalidCredentials
	}
	return Identity{ID: user.ID, Name: user.Name, Email: user.Email, RoleName: user.RoleName}, nil
}

// Register creates a credential account with the default role and queues the
// verification email. A colliding verification token is regenerated rather
// than surfaced to the caller.
func (s *Service) Register(ctx context.Context, name, email, password string) (Identity, error) {
	if name == "" || email == "" || password == "" {
		return Identity{}, fmt.Errorf("%w: name, email and password are required", httpx.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, err
	}
	hashStr := string(hash)

	roleID, err := s.defaultRoleID(ctx)
	if err != nil {
		return Identity{}, err
	}

	var user *User
	for attempt := 0; attempt < tokenMaxAttempts; attempt++ {
		token := generateToken()
		user, err = s.repo.Create(ctx, CreateUserParams{
			Name:              name,
			Email:             email,
			PasswordHash:      &hashStr,
			RoleID:            roleID,
			VerificationToken: &token,
		})
		if err == nil {
			break
		}
		if db.IsUniqueViolation(err) {
			// A duplicate email is a conflict; a duplicate token just needs
			// another roll of the dice.
			if existing, lookupErr := s.repo.FindByEmail(ctx, email); lookupErr == nil && existing != nil {
				return Identity{}, fmt.Errorf("%w: user with this email already exists", httpx.ErrDuplicate)
			}
			continue
		}
		return Identity{}, err
	}
	if user == nil {
		return Identity{}, fmt.Errorf("register: could not allocate verification token: %w", err)
	}

	if user.VerificationToken != nil {
		s.sendMail(ctx, user.Email, "Verify your email",
			fmt.Sprintf("Welcome to EventDesk, %s. Your verification token is %s", user.Name, *user.VerificationToken))
	}
	return Identity{ID: user.ID, Name: user.Name, Email: user.Email, RoleName: user.RoleName}, nil
}

// CompleteOAuthSignIn finalises a provider sign-in. The handler admits only
// callers holding the exchange secret, so the email is trusted here. Accounts
// are created without a password hash; accounts without a role self-heal onto
// the guest role.
func (s *Service) CompleteOAuthSignIn(ctx context.Context, email, name string) (Identity, error) {
	if email == "" {
		return Identity{}, fmt.Errorf("%w: email is required", httpx.ErrValidation)
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return Identity{}, err
		}
		user, err = s.repo.Create(ctx, CreateUserParams{Name: name, Email: email})
		if err != nil {
			if db.IsUniqueViolation(err) {
				// Concurrent callback for the same account; reuse the row.
				user, err = s.repo.FindByEmail(ctx, email)
			}
			if err != nil {
				return Identity{}, err
			}
		}
	}

	if user.RoleID == nil {
		guest, err := s.roles.EnsureGuestRole(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("ensure guest role", slog.Any("error", err))
			}
		} else if err := s.repo.AssignRole(ctx, user.ID, guest.ID); err == nil {
			user.RoleID = &guest.ID
			user.RoleName = guest.Name
		}
	}

	return Identity{ID: user.ID, Name: user.Name, Email: user.Email, RoleName: user.RoleName}, nil
}

// VerifyEmail consumes a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: verification token is required", httpx.ErrValidation)
	}
	user, err := s.repo.FindByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: invalid or expired verification token", httpx.ErrValidation)
		}
		return err
	}
	return s.repo.MarkEmailVerified(ctx, user.ID)
}

// ForgotPassword stores a reset token and queues the reset email. It never
// reveals whether the account exists.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", httpx.ErrValidation)
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	token := generateToken()
	if err := s.repo.SetResetToken(ctx, user.ID, token, time.Now().Add(resetTokenTTL)); err != nil {
		return err
	}
	s.sendMail(ctx, user.Email, "Reset your password",
		fmt.Sprintf("Use this token to reset your EventDesk password: %s", token))
	return nil
}

// ResetPassword consumes a reset token and installs the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return fmt.Errorf("%w: token and new password are required", httpx.ErrValidation)
	}
	user, err := s.repo.FindByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: invalid or expired reset token", httpx.ErrValidation)
		}
		return err
	}
	if user.ResetTokenExpiry == nil || time.Now().After(*user.ResetTokenExpiry) {
		return fmt.Errorf("%w: invalid or expired reset token", httpx.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, user.ID, string(hash))
}

// RoleNameForUser re-fetches the user's role name, used by the session
// binder when a session predates a role grant.
func (s *Service) RoleNameForUser(ctx context.Context, userID int64) (string, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.RoleName, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

func (s *Service) defaultRoleID(ctx context.Context) (*int64, error) {
	role, err := s.roles.GetRoleByName(ctx, defaultRoleName)
	if err == nil {
		return &role.ID, nil
	}
	if !errors.Is(err, httpx.ErrNotFound) {
		return nil, err
	}
	guest, err := s.roles.EnsureGuestRole(ctx)
	if err != nil {
		return nil, err
	}
	return &guest.ID, nil
}

func (s *Service) sendMail(ctx context.Context, to, subject, body string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.EnqueueMail(ctx, to, subject, body); err != nil && s.logger != nil {
		s.logger.Warn("enqueue mail", slog.String("to", to), slog.Any("error", err))
	}
}

func generateToken() string {
	b := make([]byte, tokenByteLength)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(b)
}
