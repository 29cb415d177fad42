package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coamsaas/secore/internal/audit"
	"github.com/coamsaas/secore/internal/auth"
	"github.com/coamsaas/secore/internal/mfa"
	"github.com/coamsaas/secore/internal/risk"
)

// Lockout defaults; overridable via WithLockout.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
)

// UserCounter reports how many users exist, optionally scoped to a tenant.
// Backed by the application's user directory, which lives outside this core.
type UserCounter interface {
	CountUsers(ctx context.Context, tenantID string) (int, error)
}

// Service is the public security API: password policy, tokens, login
// tracking with lockout, sessions, consent, and dashboard metrics.
type Service struct {
	policy     PasswordPolicy
	jwt        *auth.JWTService
	scorer     *risk.Scorer
	attempts   risk.AttemptStore
	incidents  risk.IncidentStore
	sessions   SessionStore
	consents   ConsentStore
	mfaConfigs mfa.ConfigStore
	users      UserCounter
	auditor    *audit.Logger
	logger     *slog.Logger
	metrics    *Metrics

	maxFailedAttempts int
	lockoutDuration   time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPolicy overrides the default password policy.
func WithPolicy(policy PasswordPolicy) ServiceOption {
	return func(s *Service) { s.policy = policy }
}

// WithAuditor wires the audit trail.
func WithAuditor(auditor *audit.Logger) ServiceOption {
	return func(s *Service) { s.auditor = auditor }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics wires Prometheus collectors.
func WithMetrics(metrics *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = metrics }
}

// WithMFAConfigs enables MFA adoption reporting.
func WithMFAConfigs(configs mfa.ConfigStore) ServiceOption {
	return func(s *Service) { s.mfaConfigs = configs }
}

// WithUserCounter enables user totals in adoption reporting.
func WithUserCounter(users UserCounter) ServiceOption {
	return func(s *Service) { s.users = users }
}

// WithLockout overrides the lockout threshold and window.
func WithLockout(maxFailedAttempts int, duration time.Duration) ServiceOption {
	return func(s *Service) {
		if maxFailedAttempts > 0 {
			s.maxFailedAttempts = maxFailedAttempts
		}
		if duration > 0 {
			s.lockoutDuration = duration
		}
	}
}

// NewService creates the security service.
func NewService(
	jwt *auth.JWTService,
	scorer *risk.Scorer,
	attempts risk.AttemptStore,
	incidents risk.IncidentStore,
	sessions SessionStore,
	consents ConsentStore,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		policy:            DefaultPasswordPolicy(),
		jwt:               jwt,
		scorer:            scorer,
		attempts:          attempts,
		incidents:         incidents,
		sessions:          sessions,
		consents:          consents,
		logger:            slog.Default(),
		maxFailedAttempts: DefaultMaxFailedAttempts,
		lockoutDuration:   DefaultLockoutDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidatePasswordStrength checks a password against the policy. The email
// enables the personal-information rule. All violated rules are returned.
func (s *Service) ValidatePasswordStrength(password, email string) (bool, []string) {
	return s.policy.Validate(password, email)
}

// CreateTokens issues an access/refresh pair for a user.
func (s *Service) CreateTokens(userID, tenantID, role string) (*auth.TokenPair, error) {
	pair, err := s.jwt.CreateTokens(userID, tenantID, role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return pair, nil
}

// VerifyToken validates a token and returns its claims. The returned error
// distinguishes expiry (auth.ErrExpiredToken) from everything else
// (auth.ErrInvalidToken).
func (s *Service) VerifyToken(token string) (*auth.Claims, error) {
	return s.jwt.ValidateToken(token)
}

// IsLockedOut reports whether an email has crossed the failed-attempt
// threshold within the lockout window.
func (s *Service) IsLockedOut(ctx context.Context, email string) (bool, error) {
	failures, err := s.attempts.CountFailuresSince(ctx, email, nowUTC().Add(-s.lockoutDuration))
	if err != nil {
		return false, fmt.Errorf("count recent failures: %w", err)
	}
	return failures >= s.maxFailedAttempts, nil
}

// TrackLoginAttempt records an attempt, scoring it and escalating when
// warranted. A locked-out account downgrades the attempt to blocked before
// recording. Returns the attempt ID and its risk score.
func (s *Service) TrackLoginAttempt(ctx context.Context, attempt *risk.Attempt) (string, float64, error) {
	if attempt.Status != risk.StatusSuccess {
		locked, err := s.IsLockedOut(ctx, attempt.Email)
		if err != nil {
			return "", 0, err
		}
		if locked {
			attempt.Status = risk.StatusBlocked
			if attempt.FailureReason == "" {
				attempt.FailureReason = "account locked out"
			}
			if s.metrics != nil {
				s.metrics.accountLockouts.Inc()
			}
		}
	}

	id, score, err := s.scorer.TrackAttempt(ctx, attempt)
	if err != nil {
		return "", 0, err
	}

	if s.metrics != nil {
		s.metrics.loginAttempts.WithLabelValues(string(attempt.Status)).Inc()
	}
	s.auditLogin(ctx, attempt, score)
	return id, score, nil
}

func (s *Service) auditLogin(ctx context.Context, attempt *risk.Attempt, score float64) {
	if s.auditor == nil {
		return
	}
	action := audit.ActionLogin
	if attempt.Status != risk.StatusSuccess {
		action = audit.ActionFailedLogin
	}
	s.auditor.Log(ctx, audit.Record{
		UserID:       attempt.UserID,
		Action:       action,
		ResourceType: "authentication",
		IPAddress:    attempt.IPAddress,
		UserAgent:    attempt.UserAgent,
		RiskScore:    score,
		NewValues: map[string]any{
			"email":  attempt.Email,
			"status": string(attempt.Status),
		},
	})
}

// CreateSession records a session for issued tokens. Only token hashes are
// stored.
func (s *Service) CreateSession(ctx context.Context, userID, tenantID string, pair *auth.TokenPair, ipAddress, userAgent string, mfaVerified bool, riskScore float64) (string, error) {
	now := nowUTC()
	session := &Session{
		UserID:           userID,
		TenantID:         tenantID,
		TokenHash:        TokenHash(pair.AccessToken),
		RefreshTokenHash: TokenHash(pair.RefreshToken),
		IPAddress:        ipAddress,
		UserAgent:        userAgent,
		IsActive:         true,
		CreatedAt:        now,
		LastActivity:     now,
		ExpiresAt:        now.Add(time.Duration(pair.ExpiresIn) * time.Second),
		MFAVerified:      mfaVerified,
		RiskScore:        riskScore,
	}
	id, err := s.sessions.Create(ctx, session)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if s.metrics != nil {
		s.metrics.sessionsCreated.Inc()
	}
	return id, nil
}

// Logout invalidates one session and writes the audit entry.
func (s *Service) Logout(ctx context.Context, sessionID, userID string) error {
	if err := s.sessions.Invalidate(ctx, sessionID); err != nil {
		return err
	}
	if s.auditor != nil {
		s.auditor.Log(ctx, audit.Record{
			UserID:       userID,
			SessionID:    sessionID,
			Action:       audit.ActionLogout,
			ResourceType: "authentication",
		})
	}
	return nil
}

// RecordPrivacyConsent stores one GDPR consent decision and audits it.
func (s *Service) RecordPrivacyConsent(ctx context.Context, consent *Consent) (string, error) {
	if consent.ConsentText == "" {
		verb := "denied"
		if consent.Granted {
			verb = "granted"
		}
		consent.ConsentText = fmt.Sprintf("User %s consent for %s", verb, consent.Purpose)
	}

	id, err := s.consents.Create(ctx, consent)
	if err != nil {
		return "", fmt.Errorf("record consent: %w", err)
	}

	if s.auditor != nil {
		s.auditor.Log(ctx, audit.Record{
			UserID:               consent.UserID,
			TenantID:             consent.TenantID,
			Action:               audit.ActionDataAccess,
			ResourceType:         "privacy_consent",
			ResourceID:           id,
			ComplianceFrameworks: []string{audit.FrameworkGDPR},
			NewValues: map[string]any{
				"consent_type": consent.ConsentType,
				"granted":      consent.Granted,
			},
		})
	}
	return id, nil
}

// GetSecurityMetrics aggregates the monitoring dashboard view over the last
// 24 hours. Rates with a zero denominator report 100%.
func (s *Service) GetSecurityMetrics(ctx context.Context, tenantID string) (*SecurityMetrics, error) {
	last24h := nowUTC().Add(-24 * time.Hour)

	totalLogins, err := s.attempts.CountSince(ctx, last24h)
	if err != nil {
		return nil, fmt.Errorf("count logins: %w", err)
	}
	failedLogins, err := s.attempts.CountSince(ctx, last24h, risk.StatusFailedPassword, risk.StatusFailedMFA)
	if err != nil {
		return nil, fmt.Errorf("count failed logins: %w", err)
	}
	openIncidents, err := s.incidents.CountOpen(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count open incidents: %w", err)
	}

	metrics := &SecurityMetrics{
		LoginMetrics: LoginMetrics{
			TotalLogins24h:  totalLogins,
			FailedLogins24h: failedLogins,
			SuccessRate:     (1 - float64(failedLogins)/float64(max(totalLogins, 1))) * 100,
		},
		SecurityIncidents: IncidentMetrics{OpenIncidents: openIncidents},
	}

	if s.mfaConfigs != nil {
		enabled, err := s.mfaConfigs.ActiveUserCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("count mfa users: %w", err)
		}
		totalUsers := 0
		if s.users != nil {
			totalUsers, err = s.users.CountUsers(ctx, tenantID)
			if err != nil {
				return nil, fmt.Errorf("count users: %w", err)
			}
		}
		metrics.MFAAdoption = MFAAdoption{
			TotalUsers:   totalUsers,
			MFAEnabled:   enabled,
			AdoptionRate: float64(enabled) / float64(max(totalUsers, 1)) * 100,
		}
	}

	return metrics, nil
}
