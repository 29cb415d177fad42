// Package config provides configuration loading and validation for the
// security service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the security service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (optional; in-memory stores are used when empty)
	RedisURL string `koanf:"redis_url"`

	// Field encryption keys. MasterKey backs "current"; the historical
	// slots decrypt ciphertexts written before a rotation.
	EncryptionMasterKey string `koanf:"encryption_master_key"`
	EncryptionKeyV1     string `koanf:"encryption_key_v1"`
	EncryptionKeyV2     string `koanf:"encryption_key_v2"`
	EncryptionKeyV3     string `koanf:"encryption_key_v3"`
	EncryptionKeyV4     string `koanf:"encryption_key_v4"`
	EncryptionKeyV5     string `koanf:"encryption_key_v5"`

	// JWT Authentication
	JWTSecret                string `koanf:"jwt_secret"`
	JWTPreviousSecret        string `koanf:"jwt_previous_secret"`
	AccessTokenExpireMinutes int    `koanf:"access_token_expire_minutes"`
	RefreshTokenExpireDays   int    `koanf:"refresh_token_expire_days"`

	// Account lockout
	MaxFailedLoginAttempts int `koanf:"max_failed_login_attempts"`
	AccountLockoutMinutes  int `koanf:"account_lockout_minutes"`

	// Twilio (SMS MFA)
	TwilioAccountSID string `koanf:"twilio_account_sid"`
	TwilioAuthToken  string `koanf:"twilio_auth_token"`
	TwilioFromNumber string `koanf:"twilio_from_number"`

	// SendGrid (email MFA)
	SendGridAPIKey string `koanf:"sendgrid_api_key"`
	SenderEmail    string `koanf:"sender_email"`
	SenderName     string `koanf:"sender_name"`

	// MFA
	MFAIssuer string `koanf:"mfa_issuer"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL   = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret     = errors.New("JWT_SECRET_KEY is required")
	ErrMissingEncryptionKey = errors.New("ENCRYPTION_MASTER_KEY is required in production")
	ErrInvalidPort          = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                     = 8080
	DefaultEnv                      = "development"
	DefaultAccessTokenExpireMinutes = 30
	DefaultRefreshTokenExpireDays   = 7
	DefaultMaxFailedLoginAttempts   = 5
	DefaultAccountLockoutMinutes    = 15
	DefaultSenderEmail              = "noreply@coamsaas.com"
	DefaultSenderName               = "COAM Security"
	DefaultMFAIssuer                = "COAM SaaS"
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// File values load first so env vars can override them.
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}
	accessExpire, accessErr := getEnvIntOrDefault("ACCESS_TOKEN_EXPIRE_MINUTES", k.Int("access_token_expire_minutes"), DefaultAccessTokenExpireMinutes)
	if accessErr != nil {
		loadErrs = append(loadErrs, accessErr)
	}
	refreshExpire, refreshErr := getEnvIntOrDefault("REFRESH_TOKEN_EXPIRE_DAYS", k.Int("refresh_token_expire_days"), DefaultRefreshTokenExpireDays)
	if refreshErr != nil {
		loadErrs = append(loadErrs, refreshErr)
	}
	maxFailed, maxFailedErr := getEnvIntOrDefault("MAX_FAILED_LOGIN_ATTEMPTS", k.Int("max_failed_login_attempts"), DefaultMaxFailedLoginAttempts)
	if maxFailedErr != nil {
		loadErrs = append(loadErrs, maxFailedErr)
	}
	lockoutMinutes, lockoutErr := getEnvIntOrDefault("ACCOUNT_LOCKOUT_MINUTES", k.Int("account_lockout_minutes"), DefaultAccountLockoutMinutes)
	if lockoutErr != nil {
		loadErrs = append(loadErrs, lockoutErr)
	}

	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:            getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		EncryptionMasterKey: getEnvOrKoanf("ENCRYPTION_MASTER_KEY", k, "encryption_master_key"),
		EncryptionKeyV1:     getEnvOrKoanf("ENCRYPTION_KEY_V1", k, "encryption_key_v1"),
		EncryptionKeyV2:     getEnvOrKoanf("ENCRYPTION_KEY_V2", k, "encryption_key_v2"),
		EncryptionKeyV3:     getEnvOrKoanf("ENCRYPTION_KEY_V3", k, "encryption_key_v3"),
		EncryptionKeyV4:     getEnvOrKoanf("ENCRYPTION_KEY_V4", k, "encryption_key_v4"),
		EncryptionKeyV5:     getEnvOrKoanf("ENCRYPTION_KEY_V5", k, "encryption_key_v5"),

		JWTSecret:                getEnvOrKoanf("JWT_SECRET_KEY", k, "jwt_secret"),
		JWTPreviousSecret:        getEnvOrKoanf("JWT_PREVIOUS_SECRET_KEY", k, "jwt_previous_secret"),
		AccessTokenExpireMinutes: accessExpire,
		RefreshTokenExpireDays:   refreshExpire,

		MaxFailedLoginAttempts: maxFailed,
		AccountLockoutMinutes:  lockoutMinutes,

		TwilioAccountSID: getEnvOrKoanf("TWILIO_ACCOUNT_SID", k, "twilio_account_sid"),
		TwilioAuthToken:  getEnvOrKoanf("TWILIO_AUTH_TOKEN", k, "twilio_auth_token"),
		TwilioFromNumber: getEnvOrKoanf("TWILIO_FROM_NUMBER", k, "twilio_from_number"),

		SendGridAPIKey: getEnvOrKoanf("SENDGRID_API_KEY", k, "sendgrid_api_key"),
		SenderEmail:    getEnvOrDefault("SENDER_EMAIL", k.String("sender_email"), DefaultSenderEmail),
		SenderName:     getEnvOrDefault("SENDER_NAME", k.String("sender_name"), DefaultSenderName),

		MFAIssuer: getEnvOrDefault("MFA_ISSUER", k.String("mfa_issuer"), DefaultMFAIssuer),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IsDevelopment reports whether the service runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// HistoricalKeys returns the populated v1-v5 key slots.
func (c *Config) HistoricalKeys() map[string]string {
	keys := make(map[string]string)
	for slot, value := range map[string]string{
		"v1": c.EncryptionKeyV1,
		"v2": c.EncryptionKeyV2,
		"v3": c.EncryptionKeyV3,
		"v4": c.EncryptionKeyV4,
		"v5": c.EncryptionKeyV5,
	} {
		if value != "" {
			keys[slot] = value
		}
	}
	return keys
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	// Development auto-generates a throwaway encryption key; production
	// must provide one.
	if !c.IsDevelopment() && c.EncryptionMasterKey == "" {
		errs = append(errs, ErrMissingEncryptionKey)
	}

	return errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}
