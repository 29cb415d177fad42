package mfa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

type fakeSmsSender struct {
	sent []string // message bodies
	to   []string
	err  error
}

func (f *fakeSmsSender) SendSMS(_ context.Context, phoneNumber, body string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, phoneNumber)
	f.sent = append(f.sent, body)
	return nil
}

type fakeEmailSender struct {
	sent []string
	to   []string
	err  error
}

func (f *fakeEmailSender) SendEmail(_ context.Context, to, _ string, body string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.sent = append(f.sent, body)
	return nil
}

// extractCode pulls the 6-digit code out of a delivery message.
func extractCode(t *testing.T, body string) string {
	t.Helper()
	for _, word := range strings.Fields(body) {
		trimmed := strings.TrimRight(word, ".")
		if len(trimmed) == 6 && strings.Trim(trimmed, "0123456789") == "" {
			return trimmed
		}
	}
	t.Fatalf("no 6-digit code in %q", body)
	return ""
}

func TestSetupTOTP(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	manager := NewManager(configs, NewMemoryCodeStore())

	setup, err := manager.SetupTOTP(ctx, "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}

	if setup.Secret == "" {
		t.Error("secret is empty")
	}
	if !strings.HasPrefix(setup.QRCode, "data:image/png;base64,") {
		t.Errorf("qr code = %q, want PNG data URL", setup.QRCode[:min(len(setup.QRCode), 40)])
	}
	if len(setup.BackupCodes) != backupCodeCount {
		t.Fatalf("backup codes = %d, want %d", len(setup.BackupCodes), backupCodeCount)
	}
	for _, code := range setup.BackupCodes {
		if len(code) != 8 || strings.ToUpper(code) != code {
			t.Errorf("backup code %q not 8-char uppercase hex", code)
		}
	}

	config, err := configs.Get(ctx, "user-1", MethodTOTP)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !config.IsPrimary || !config.IsActive {
		t.Error("totp config should be primary and active")
	}
}

func TestSetupTOTP_RerunSupersedesPreviousSecret(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	manager := NewManager(configs, NewMemoryCodeStore())

	first, err := manager.SetupTOTP(ctx, "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}
	second, err := manager.SetupTOTP(ctx, "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("SetupTOTP() rerun error = %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("rerun returned the same secret")
	}

	config, err := configs.Get(ctx, "user-1", MethodTOTP)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if config.SecretKey != second.Secret {
		t.Errorf("active secret = %q, want the rerun secret", config.SecretKey)
	}
	if count, err := configs.ActiveUserCount(ctx); err != nil || count != 1 {
		t.Errorf("ActiveUserCount() = %d, %v, want 1 active user", count, err)
	}

	now := time.Now().UTC()
	opts := totp.ValidateOpts{Period: totpPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}
	oldCode, err := totp.GenerateCodeCustom(first.Secret, now, opts)
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error = %v", err)
	}
	newCode, err := totp.GenerateCodeCustom(second.Secret, now, opts)
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error = %v", err)
	}

	if ok, _ := manager.Verify(ctx, "user-1", MethodTOTP, newCode); !ok {
		t.Error("code from the rerun secret rejected")
	}
	if oldCode != newCode {
		if ok, _ := manager.Verify(ctx, "user-1", MethodTOTP, oldCode); ok {
			t.Error("code from the superseded secret still accepted")
		}
	}
}

func TestSetupTOTP_BackupCodesNeverStoredPlaintext(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	manager := NewManager(configs, NewMemoryCodeStore())

	setup, err := manager.SetupTOTP(ctx, "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}

	config, err := configs.Get(ctx, "user-1", MethodTOTP)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(config.BackupCodeHashes) != backupCodeCount {
		t.Fatalf("stored hashes = %d, want %d", len(config.BackupCodeHashes), backupCodeCount)
	}
	for _, plaintext := range setup.BackupCodes {
		for _, stored := range config.BackupCodeHashes {
			if stored == plaintext {
				t.Fatalf("plaintext backup code %q persisted", plaintext)
			}
		}
	}
	// Each stored hash verifies against exactly one issued code.
	if bcrypt.CompareHashAndPassword([]byte(config.BackupCodeHashes[0]), []byte(setup.BackupCodes[0])) != nil {
		t.Error("stored hash does not verify its issued code")
	}
}

func TestVerify_TOTP(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	manager := NewManager(configs, NewMemoryCodeStore())

	setup, err := manager.SetupTOTP(ctx, "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}

	code, err := totp.GenerateCodeCustom(setup.Secret, time.Now().UTC(), totp.ValidateOpts{
		Period: totpPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error = %v", err)
	}

	ok, err := manager.Verify(ctx, "user-1", MethodTOTP, code)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("current TOTP code rejected")
	}

	ok, err = manager.Verify(ctx, "user-1", MethodTOTP, "000000")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("bogus TOTP code accepted")
	}
}

func TestVerify_TOTP_AcceptsAdjacentStep(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	manager := NewManager(configs, NewMemoryCodeStore())

	setup, err := manager.SetupTOTP(ctx, "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}

	// A code from the previous time step must still pass (clock drift).
	previous, err := totp.GenerateCodeCustom(setup.Secret, time.Now().UTC().Add(-totpPeriod*time.Second), totp.ValidateOpts{
		Period: totpPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error = %v", err)
	}

	ok, err := manager.Verify(ctx, "user-1", MethodTOTP, previous)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("previous-step TOTP code rejected despite skew allowance")
	}
}

func TestSetupSMS(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	sms := &fakeSmsSender{}
	manager := NewManager(configs, NewMemoryCodeStore(), WithSMS(sms))

	if err := manager.SetupSMS(ctx, "user-1", "+1 (202) 555-0123"); err != nil {
		t.Fatalf("SetupSMS() error = %v", err)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("test code deliveries = %d, want 1", len(sms.sent))
	}
	if sms.to[0] != "+12025550123" {
		t.Errorf("delivered to %q, want normalized E.164", sms.to[0])
	}

	config, err := configs.Get(ctx, "user-1", MethodSMS)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if config.PhoneNumber != "+12025550123" {
		t.Errorf("stored phone = %q", config.PhoneNumber)
	}
}

func TestSetupSMS_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("no provider", func(t *testing.T) {
		manager := NewManager(NewMemoryConfigStore(), NewMemoryCodeStore())
		err := manager.SetupSMS(ctx, "user-1", "+12025550123")
		if !errors.Is(err, ErrMFA) {
			t.Errorf("error = %v, want ErrMFA", err)
		}
	})

	t.Run("invalid phone", func(t *testing.T) {
		manager := NewManager(NewMemoryConfigStore(), NewMemoryCodeStore(), WithSMS(&fakeSmsSender{}))
		err := manager.SetupSMS(ctx, "user-1", "not-a-phone")
		if !errors.Is(err, ErrMFA) {
			t.Errorf("error = %v, want ErrMFA", err)
		}
	})

	t.Run("delivery failure leaves nothing persisted", func(t *testing.T) {
		configs := NewMemoryConfigStore()
		sms := &fakeSmsSender{err: errors.New("carrier rejected")}
		manager := NewManager(configs, NewMemoryCodeStore(), WithSMS(sms))

		if err := manager.SetupSMS(ctx, "user-1", "+12025550123"); !errors.Is(err, ErrMFA) {
			t.Fatalf("error = %v, want ErrMFA", err)
		}
		if _, err := configs.Get(ctx, "user-1", MethodSMS); !errors.Is(err, ErrNotConfigured) {
			t.Error("configuration persisted despite failed test delivery")
		}
	})
}

func TestVerify_CodeSingleUse(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	email := &fakeEmailSender{}
	manager := NewManager(configs, NewMemoryCodeStore(), WithEmail(email))

	if err := manager.SetupEmail(ctx, "user-1", "user@example.com"); err != nil {
		t.Fatalf("SetupEmail() error = %v", err)
	}
	if err := manager.SendCode(ctx, "user-1", MethodEmail); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}

	code := extractCode(t, email.sent[len(email.sent)-1])

	ok, err := manager.Verify(ctx, "user-1", MethodEmail, code)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("freshly delivered code rejected")
	}

	// Same code a second time must fail: it was consumed.
	ok, err = manager.Verify(ctx, "user-1", MethodEmail, code)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("code accepted twice")
	}
}

func TestVerify_WrongCodeDoesNotBurn(t *testing.T) {
	ctx := context.Background()
	sms := &fakeSmsSender{}
	manager := NewManager(NewMemoryConfigStore(), NewMemoryCodeStore(), WithSMS(sms))

	if err := manager.SetupSMS(ctx, "user-1", "+12025550123"); err != nil {
		t.Fatalf("SetupSMS() error = %v", err)
	}
	code := extractCode(t, sms.sent[0])

	ok, err := manager.Verify(ctx, "user-1", MethodSMS, "999999")
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = (%v, %v), want (false, nil)", ok, err)
	}

	// The pending code survives a wrong guess.
	ok, err = manager.Verify(ctx, "user-1", MethodSMS, code)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("correct code rejected after a wrong guess")
	}
}

func TestSendCode_Supersedes(t *testing.T) {
	ctx := context.Background()
	sms := &fakeSmsSender{}
	manager := NewManager(NewMemoryConfigStore(), NewMemoryCodeStore(), WithSMS(sms))

	if err := manager.SetupSMS(ctx, "user-1", "+12025550123"); err != nil {
		t.Fatalf("SetupSMS() error = %v", err)
	}
	if err := manager.SendCode(ctx, "user-1", MethodSMS); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}
	if err := manager.SendCode(ctx, "user-1", MethodSMS); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}

	first := extractCode(t, sms.sent[1])
	second := extractCode(t, sms.sent[2])

	if first != second {
		ok, err := manager.Verify(ctx, "user-1", MethodSMS, first)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if ok {
			t.Error("superseded code accepted")
		}
	}

	ok, err := manager.Verify(ctx, "user-1", MethodSMS, second)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("latest code rejected")
	}
}

func TestVerify_BackupCode(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	manager := NewManager(configs, NewMemoryCodeStore())

	setup, err := manager.SetupTOTP(ctx, "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}

	code := setup.BackupCodes[3]
	ok, err := manager.Verify(ctx, "user-1", MethodBackupCodes, code)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("issued backup code rejected")
	}

	// Burned after use.
	ok, err = manager.Verify(ctx, "user-1", MethodBackupCodes, code)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("backup code accepted twice")
	}

	config, err := configs.Get(ctx, "user-1", MethodTOTP)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(config.BackupCodeHashes) != backupCodeCount-1 {
		t.Errorf("remaining hashes = %d, want %d", len(config.BackupCodeHashes), backupCodeCount-1)
	}

	// The other codes still work.
	ok, err = manager.Verify(ctx, "user-1", MethodBackupCodes, setup.BackupCodes[0])
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("unused backup code rejected")
	}
}

func TestDisable(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	manager := NewManager(configs, NewMemoryCodeStore())

	if _, err := manager.SetupTOTP(ctx, "user-1", "user@example.com"); err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}
	if err := manager.Disable(ctx, "user-1", MethodTOTP); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if _, err := configs.Get(ctx, "user-1", MethodTOTP); !errors.Is(err, ErrNotConfigured) {
		t.Error("disabled configuration still resolves as active")
	}

	// Disabling an unconfigured method is an error.
	if err := manager.Disable(ctx, "user-2", MethodSMS); !errors.Is(err, ErrMFA) {
		t.Errorf("Disable(unconfigured) error = %v, want ErrMFA", err)
	}
}

func TestVerify_UsageTracking(t *testing.T) {
	ctx := context.Background()
	configs := NewMemoryConfigStore()
	manager := NewManager(configs, NewMemoryCodeStore())

	setup, err := manager.SetupTOTP(ctx, "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("SetupTOTP() error = %v", err)
	}
	code, err := totp.GenerateCodeCustom(setup.Secret, time.Now().UTC(), totp.ValidateOpts{
		Period: totpPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error = %v", err)
	}
	if ok, _ := manager.Verify(ctx, "user-1", MethodTOTP, code); !ok {
		t.Fatal("verification failed")
	}

	config, err := configs.Get(ctx, "user-1", MethodTOTP)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if config.UseCount != 1 {
		t.Errorf("use count = %d, want 1", config.UseCount)
	}
	if config.LastUsed == nil {
		t.Error("last used not recorded")
	}
}

func TestMemoryCodeStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCodeStore()

	if err := store.Put(ctx, "user-1", MethodSMS, "hash", -time.Second); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := store.Get(ctx, "user-1", MethodSMS); !errors.Is(err, ErrNoCode) {
		t.Errorf("Get(expired) error = %v, want ErrNoCode", err)
	}
}
