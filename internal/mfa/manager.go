package mfa

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/coamsaas/secore/internal/audit"
	"github.com/coamsaas/secore/internal/notify"
	"github.com/coamsaas/secore/internal/validate"
)

const (
	codeTTL         = 5 * time.Minute
	backupCodeCount = 8
	totpPeriod      = 30
	// totpSkew tolerates one time step of clock drift in either direction.
	totpSkew = 1
)

// Manager drives MFA setup and verification across all supported methods.
type Manager struct {
	configs ConfigStore
	codes   CodeStore
	sms     notify.SmsSender
	email   notify.EmailSender
	auditor *audit.Logger
	logger  *slog.Logger
	issuer  string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSMS wires an SMS delivery channel.
func WithSMS(sender notify.SmsSender) ManagerOption {
	return func(m *Manager) { m.sms = sender }
}

// WithEmail wires an email delivery channel.
func WithEmail(sender notify.EmailSender) ManagerOption {
	return func(m *Manager) { m.email = sender }
}

// WithAuditor wires the audit trail for setup and disable events.
func WithAuditor(auditor *audit.Logger) ManagerOption {
	return func(m *Manager) { m.auditor = auditor }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithIssuer sets the issuer name shown in authenticator apps.
func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) { m.issuer = issuer }
}

// NewManager creates an MFA manager. SMS and email methods stay unavailable
// until the corresponding sender is wired in.
func NewManager(configs ConfigStore, codes CodeStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		configs: configs,
		codes:   codes,
		logger:  slog.Default(),
		issuer:  "COAM",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetupTOTP provisions a TOTP secret for the user and returns the secret, a
// QR code as a PNG data URL, and the plaintext backup codes. The plaintext
// codes exist only in the returned value; at rest they are bcrypt hashes.
func (m *Manager) SetupTOTP(ctx context.Context, userID, email string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: email,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate totp secret: %v", ErrMFA, err)
	}

	qrCode, err := renderQRCode(key)
	if err != nil {
		return nil, fmt.Errorf("%w: render qr code: %v", ErrMFA, err)
	}

	backupCodes, hashes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("%w: generate backup codes: %v", ErrMFA, err)
	}

	// Re-running setup replaces the previous secret; the old one must stop
	// verifying, so deactivate any existing configuration first.
	if err := m.configs.Deactivate(ctx, userID, MethodTOTP); err != nil && !errors.Is(err, ErrNotConfigured) {
		return nil, fmt.Errorf("%w: deactivate previous configuration: %v", ErrMFA, err)
	}

	config := &Config{
		UserID:           userID,
		Method:           MethodTOTP,
		SecretKey:        key.Secret(),
		Email:            email,
		BackupCodeHashes: hashes,
		IsPrimary:        true,
		IsActive:         true,
	}
	if _, err := m.configs.Save(ctx, config); err != nil {
		return nil, fmt.Errorf("%w: save configuration: %v", ErrMFA, err)
	}

	m.auditSetup(ctx, userID, MethodTOTP)
	m.logger.Info("totp configured", "user_id", userID)

	return &TOTPSetup{
		Secret:      key.Secret(),
		QRCode:      qrCode,
		BackupCodes: backupCodes,
	}, nil
}

// SetupSMS registers a phone number for SMS codes. A real test code is sent
// first; the configuration is persisted only if delivery succeeds.
func (m *Manager) SetupSMS(ctx context.Context, userID, phoneNumber string) error {
	if m.sms == nil {
		return fmt.Errorf("%w: no sms provider configured", ErrMFA)
	}
	normalized, err := validate.Phone(phoneNumber)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFA, err)
	}

	code, hash, err := generateCode()
	if err != nil {
		return fmt.Errorf("%w: generate code: %v", ErrMFA, err)
	}
	if err := m.sms.SendSMS(ctx, normalized, verificationMessage(code)); err != nil {
		return fmt.Errorf("%w: test delivery failed: %v", ErrMFA, err)
	}
	if err := m.codes.Put(ctx, userID, MethodSMS, hash, codeTTL); err != nil {
		return fmt.Errorf("%w: store code: %v", ErrMFA, err)
	}

	config := &Config{
		UserID:      userID,
		Method:      MethodSMS,
		PhoneNumber: normalized,
		IsActive:    true,
	}
	if _, err := m.configs.Save(ctx, config); err != nil {
		return fmt.Errorf("%w: save configuration: %v", ErrMFA, err)
	}

	m.auditSetup(ctx, userID, MethodSMS)
	m.logger.Info("sms mfa configured", "user_id", userID)
	return nil
}

// SetupEmail registers an email address for one-time codes. Like SetupSMS,
// deliverability is proven before the configuration is persisted.
func (m *Manager) SetupEmail(ctx context.Context, userID, email string) error {
	if m.email == nil {
		return fmt.Errorf("%w: no email provider configured", ErrMFA)
	}
	normalized, err := validate.Email(email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFA, err)
	}

	code, hash, err := generateCode()
	if err != nil {
		return fmt.Errorf("%w: generate code: %v", ErrMFA, err)
	}
	if err := m.email.SendEmail(ctx, normalized, "Your verification code", verificationMessage(code)); err != nil {
		return fmt.Errorf("%w: test delivery failed: %v", ErrMFA, err)
	}
	if err := m.codes.Put(ctx, userID, MethodEmail, hash, codeTTL); err != nil {
		return fmt.Errorf("%w: store code: %v", ErrMFA, err)
	}

	config := &Config{
		UserID:   userID,
		Method:   MethodEmail,
		Email:    normalized,
		IsActive: true,
	}
	if _, err := m.configs.Save(ctx, config); err != nil {
		return fmt.Errorf("%w: save configuration: %v", ErrMFA, err)
	}

	m.auditSetup(ctx, userID, MethodEmail)
	m.logger.Info("email mfa configured", "user_id", userID)
	return nil
}

// SendCode generates a fresh 6-digit code for an already-configured SMS or
// email method, stores its hash with a 5-minute expiry, and dispatches it.
// A new code supersedes any pending one.
func (m *Manager) SendCode(ctx context.Context, userID string, method Method) error {
	config, err := m.configs.Get(ctx, userID, method)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFA, err)
	}

	code, hash, err := generateCode()
	if err != nil {
		return fmt.Errorf("%w: generate code: %v", ErrMFA, err)
	}

	switch method {
	case MethodSMS:
		if m.sms == nil {
			return fmt.Errorf("%w: no sms provider configured", ErrMFA)
		}
		if err := m.sms.SendSMS(ctx, config.PhoneNumber, verificationMessage(code)); err != nil {
			return fmt.Errorf("%w: delivery failed: %v", ErrMFA, err)
		}
	case MethodEmail:
		if m.email == nil {
			return fmt.Errorf("%w: no email provider configured", ErrMFA)
		}
		if err := m.email.SendEmail(ctx, config.Email, "Your verification code", verificationMessage(code)); err != nil {
			return fmt.Errorf("%w: delivery failed: %v", ErrMFA, err)
		}
	default:
		return fmt.Errorf("%w: method %q has no delivery channel", ErrMFA, method)
	}

	if err := m.codes.Put(ctx, userID, method, hash, codeTTL); err != nil {
		return fmt.Errorf("%w: store code: %v", ErrMFA, err)
	}
	return nil
}

// Verify checks a submitted code against the user's configuration for the
// given method. A wrong code returns (false, nil); errors are reserved for
// infrastructure faults so callers can count rejections toward risk scores.
func (m *Manager) Verify(ctx context.Context, userID string, method Method, code string) (bool, error) {
	switch method {
	case MethodTOTP:
		return m.verifyTOTP(ctx, userID, code)
	case MethodSMS, MethodEmail:
		return m.verifyCode(ctx, userID, method, code)
	case MethodBackupCodes:
		return m.verifyBackupCode(ctx, userID, code)
	default:
		return false, fmt.Errorf("%w: unknown method %q", ErrMFA, method)
	}
}

func (m *Manager) verifyTOTP(ctx context.Context, userID, code string) (bool, error) {
	config, err := m.configs.Get(ctx, userID, MethodTOTP)
	if err != nil {
		return false, err
	}

	valid, err := totp.ValidateCustom(code, config.SecretKey, nowUTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return false, nil
	}

	m.markUsed(ctx, config)
	return true, nil
}

func (m *Manager) verifyCode(ctx context.Context, userID string, method Method, code string) (bool, error) {
	hash, err := m.codes.Get(ctx, userID, method)
	if err != nil {
		if errors.Is(err, ErrNoCode) {
			return false, nil
		}
		return false, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return false, nil
	}

	// The delete result decides acceptance: of two racing verifications
	// only one removes the code, so no code is ever accepted twice.
	consumed, err := m.codes.Delete(ctx, userID, method)
	if err != nil {
		return false, err
	}
	if !consumed {
		return false, nil
	}

	if config, err := m.configs.Get(ctx, userID, method); err == nil {
		m.markUsed(ctx, config)
	}
	return true, nil
}

func (m *Manager) verifyBackupCode(ctx context.Context, userID, code string) (bool, error) {
	config, err := m.configs.Get(ctx, userID, MethodTOTP)
	if err != nil {
		return false, err
	}

	normalized := strings.ToUpper(strings.TrimSpace(code))
	for i, hash := range config.BackupCodeHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(normalized)) != nil {
			continue
		}
		// Burn the matched code.
		config.BackupCodeHashes = append(config.BackupCodeHashes[:i], config.BackupCodeHashes[i+1:]...)
		m.markUsed(ctx, config)
		m.logger.Info("backup code consumed", "user_id", userID, "remaining", len(config.BackupCodeHashes))
		return true, nil
	}
	return false, nil
}

// Disable deactivates the user's configuration for a method. The record is
// kept for audit purposes rather than deleted.
func (m *Manager) Disable(ctx context.Context, userID string, method Method) error {
	if err := m.configs.Deactivate(ctx, userID, method); err != nil {
		return fmt.Errorf("%w: %v", ErrMFA, err)
	}
	if m.auditor != nil {
		m.auditor.Log(ctx, audit.Record{
			UserID:       userID,
			Action:       audit.ActionMFADisable,
			ResourceType: "mfa_configuration",
			OldValues:    map[string]any{"method": string(method)},
		})
	}
	m.logger.Info("mfa disabled", "user_id", userID, "method", method)
	return nil
}

func (m *Manager) markUsed(ctx context.Context, config *Config) {
	now := nowUTC()
	config.LastUsed = &now
	config.UseCount++
	if _, err := m.configs.Save(ctx, config); err != nil {
		m.logger.Warn("failed to record mfa usage", "user_id", config.UserID, "error", err)
	}
}

func (m *Manager) auditSetup(ctx context.Context, userID string, method Method) {
	if m.auditor == nil {
		return
	}
	m.auditor.Log(ctx, audit.Record{
		UserID:       userID,
		Action:       audit.ActionMFAEnable,
		ResourceType: "mfa_configuration",
		NewValues:    map[string]any{"method": string(method)},
	})
}

func renderQRCode(key *otp.Key) (string, error) {
	img, err := key.Image(256, 256)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// generateCode produces a random 6-digit numeric code and its bcrypt hash.
func generateCode() (code, hash string, err error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", "", err
	}
	code = fmt.Sprintf("%06d", n.Int64())

	raw, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return code, string(raw), nil
}

// generateBackupCodes produces n random codes (uppercase hex) and their
// bcrypt hashes in matching order.
func generateBackupCodes(n int) (codes, hashes []string, err error) {
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		raw := make([]byte, 4)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, err
		}
		code := strings.ToUpper(hex.EncodeToString(raw))

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}
	return codes, hashes, nil
}

func verificationMessage(code string) string {
	return "Your verification code is " + code + ". It expires in 5 minutes."
}
