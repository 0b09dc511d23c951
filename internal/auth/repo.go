package auth

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventdesk/eventdesk/internal/shared"
)

// CreateUserParams collects the fields needed to insert an account.
type CreateUserParams struct {
	Name              string
	Email             string
	PasswordHash      *string
	RoleID            *int64
	VerificationToken *string
}

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, params CreateUserParams) (*User, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	FindByVerificationToken(ctx context.Context, token string) (*User, error)
	MarkEmailVerified(ctx context.Context, userID int64) error
	SetResetToken(ctx context.Context, userID int64, token string, expiry time.Time) error
	FindByResetToken(ctx context.Context, token string) (*User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

const userColumns = `u.id, u.name, u.email, u.password_hash, u.role_id, COALESCE(r.name, ''),
	u.email_verified_at, u.verification_token, u.reset_token, u.reset_token_expiry,
	u.created_at, u.updated_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user, with role name, by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `WHERE u.email = $1`, email)
}

// FindByID fetches a user, with role name, by ID.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, `WHERE u.id = $1`, id)
}

// FindByVerificationToken fetches the user holding an email verification token.
func (r *PGRepository) FindByVerificationToken(ctx context.Context, token string) (*User, error) {
	return r.findOne(ctx, `WHERE u.verification_token = $1`, token)
}

// FindByResetToken fetches the user holding a password reset token.
func (r *PGRepository) FindByResetToken(ctx context.Context, token string) (*User, error) {
	return r.findOne(ctx, `WHERE u.reset_token = $1`, token)
}

// Create inserts a new account.
func (r *PGRepository) Create(ctx context.Context, params CreateUserParams) (*User, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role_id, verification_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id`,
		params.Name, params.Email, params.PasswordHash, params.RoleID, params.VerificationToken).Scan(&id)
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// AssignRole points the user at a role.
func (r *PGRepository) AssignRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkEmailVerified records the verification time and clears the token.
func (r *PGRepository) MarkEmailVerified(ctx context.Context, userID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET email_verified_at = NOW(), verification_token = NULL, updated_at = NOW()
		WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetResetToken stores a password reset token with its expiry.
func (r *PGRepository) SetResetToken(ctx context.Context, userID int64, token string, expiry time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET reset_token = $2, reset_token_expiry = $3, updated_at = NOW()
		WHERE id = $1`, userID, token, expiry.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the password hash and clears any reset token.
func (r *PGRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, reset_token = NULL, reset_token_expiry = NULL, updated_at = NOW()
		WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))`,
		id, userID, expiresAt.UTC(), ip, ua)
	return err
}

// DeleteSession removes a session record from the database.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// DeleteExpiredSessions prunes session records past their expiry.
func (r *PGRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) findOne(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id ` + where
	var user User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.RoleID, &user.RoleName,
		&user.EmailVerifiedAt, &user.VerificationToken, &user.ResetToken, &user.ResetTokenExpiry,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

var _ Repository = (*PGRepository)(nil)
