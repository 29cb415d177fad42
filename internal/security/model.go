// Package security orchestrates the security core: password policy, token
// issuance, login tracking with lockout, sessions, privacy consent, and the
// monitoring metrics surface.
package security

import (
	"errors"
	"time"
)

// Service errors.
var (
	ErrAuthentication = errors.New("authentication error")
	ErrAuthorization  = errors.New("authorization error")
	ErrLockedOut      = errors.New("account temporarily locked")
)

// Session is an auxiliary record of an authenticated session. Authorization
// itself is stateless JWT; sessions exist as an audit and revocation trail.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	TenantID         string    `json:"tenant_id,omitempty"`
	TokenHash        string    `json:"token_hash"`
	RefreshTokenHash string    `json:"refresh_token_hash,omitempty"`
	IPAddress        string    `json:"ip_address"`
	UserAgent        string    `json:"user_agent"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	ExpiresAt        time.Time `json:"expires_at"`
	MFAVerified      bool      `json:"mfa_verified"`
	RiskScore        float64   `json:"risk_score"`
}

// Consent records one GDPR consent decision.
type Consent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	ConsentType string    `json:"consent_type"`
	Granted     bool      `json:"granted"`
	Purpose     string    `json:"purpose"`
	LegalBasis  string    `json:"legal_basis,omitempty"`
	ConsentText string    `json:"consent_text"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LoginMetrics summarizes login activity over the reporting window.
type LoginMetrics struct {
	TotalLogins24h  int     `json:"total_logins_24h"`
	FailedLogins24h int     `json:"failed_logins_24h"`
	SuccessRate     float64 `json:"success_rate"`
}

// IncidentMetrics summarizes incident state.
type IncidentMetrics struct {
	OpenIncidents int `json:"open_incidents"`
}

// MFAAdoption summarizes MFA uptake.
type MFAAdoption struct {
	TotalUsers   int     `json:"total_users"`
	MFAEnabled   int     `json:"mfa_enabled"`
	AdoptionRate float64 `json:"adoption_rate"`
}

// SecurityMetrics is the monitoring dashboard aggregate.
type SecurityMetrics struct {
	LoginMetrics      LoginMetrics    `json:"login_metrics"`
	SecurityIncidents IncidentMetrics `json:"security_incidents"`
	MFAAdoption       MFAAdoption     `json:"mfa_adoption"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
