package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Admin is an administrator account. The first registered admin becomes
// the owner; registration is closed afterwards.
type Admin struct {
	ID           string
	Email        string
	PasswordHash string
	Name         *string
	IsOwner      bool
	TOTPSecret   *string
	TOTPEnabled  bool
	BackupCodes  *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const adminColumns = `id, email, password_hash, name, is_owner, totp_secret, totp_enabled, backup_codes, created_at, updated_at`

// CountAdmins returns the number of admin accounts.
func (s *Store) CountAdmins(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count)
	return count, err
}

// CreateAdmin inserts a new admin account.
func (s *Store) CreateAdmin(ctx context.Context, email, passwordHash string, name *string, isOwner bool) (*Admin, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO admins (id, email, password_hash, name, is_owner)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+adminColumns,
		uuid.NewString(), email, passwordHash, name, isOwner)
	a, err := scanAdmin(row)
	if err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	return a, nil
}

// GetAdminByEmail returns an admin by email, or nil when absent.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE email = $1`, email)
	return adminOrNil(row)
}

// GetAdmin returns an admin by ID, or nil when absent.
func (s *Store) GetAdmin(ctx context.Context, id string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE id = $1`, id)
	return adminOrNil(row)
}

// SetTOTPSecret stores a pending TOTP secret during 2FA setup. The
// secret is not active until EnableTOTP confirms a valid code.
func (s *Store) SetTOTPSecret(ctx context.Context, adminID, secret string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE admins SET totp_secret = $2, updated_at = NOW() WHERE id = $1`,
		adminID, secret)
	if err != nil {
		return fmt.Errorf("set totp secret: %w", err)
	}
	return nil
}

// EnableTOTP activates 2FA and stores the hashed backup codes.
func (s *Store) EnableTOTP(ctx context.Context, adminID, backupCodes string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE admins SET totp_enabled = TRUE, backup_codes = $2, updated_at = NOW() WHERE id = $1`,
		adminID, backupCodes)
	if err != nil {
		return fmt.Errorf("enable totp: %w", err)
	}
	return nil
}

// DisableTOTP deactivates 2FA and clears the secret and backup codes.
func (s *Store) DisableTOTP(ctx context.Context, adminID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE admins SET totp_enabled = FALSE, totp_secret = NULL, backup_codes = NULL, updated_at = NOW()
		 WHERE id = $1`, adminID)
	if err != nil {
		return fmt.Errorf("disable totp: %w", err)
	}
	return nil
}

// UpdateBackupCodes replaces the stored backup codes. A nil value clears
// them, used when the last code is consumed.
func (s *Store) UpdateBackupCodes(ctx context.Context, adminID string, backupCodes *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE admins SET backup_codes = $2, updated_at = NOW() WHERE id = $1`,
		adminID, backupCodes)
	if err != nil {
		return fmt.Errorf("update backup codes: %w", err)
	}
	return nil
}

// ParseAdminID validates an admin ID extracted from a token claim.
func ParseAdminID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid admin id: %w", err)
	}
	return id.String(), nil
}

func adminOrNil(row rowScanner) (*Admin, error) {
	a, err := scanAdmin(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query admin: %w", err)
	}
	return a, nil
}

func scanAdmin(row rowScanner) (*Admin, error) {
	var a Admin
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &a.IsOwner,
		&a.TOTPSecret, &a.TOTPEnabled, &a.BackupCodes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
