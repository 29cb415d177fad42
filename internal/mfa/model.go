// Package mfa issues and verifies second factors: TOTP secrets, one-time
// SMS and email codes, and single-use backup codes.
package mfa

import (
	"errors"
	"time"
)

// Method is a supported second-factor channel.
type Method string

// Supported methods.
const (
	MethodTOTP        Method = "totp"
	MethodSMS         Method = "sms"
	MethodEmail       Method = "email"
	MethodBackupCodes Method = "backup_codes"
)

// MFA errors. Setup problems are configuration errors and surface as
// ErrMFA; verification failures return false instead so callers can count
// them toward risk scoring.
var (
	ErrMFA           = errors.New("mfa error")
	ErrNotConfigured = errors.New("mfa method not configured")
	ErrNoCode        = errors.New("no pending verification code")
)

// Config is one MFA method bound to one user. Backup codes are stored only
// as one-way hashes; plaintext codes are shown to the user exactly once at
// generation time.
type Config struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Method           Method     `json:"method"`
	SecretKey        string     `json:"secret_key,omitempty"`
	PhoneNumber      string     `json:"phone_number,omitempty"`
	Email            string     `json:"email,omitempty"`
	BackupCodeHashes []string   `json:"backup_codes,omitempty"`
	IsPrimary        bool       `json:"is_primary"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsed         *time.Time `json:"last_used,omitempty"`
	UseCount         int        `json:"use_count"`
}

// TOTPSetup is returned once from SetupTOTP. BackupCodes holds the only
// plaintext copy of the codes that will ever exist.
type TOTPSetup struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
