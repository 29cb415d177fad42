package risk

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/coamsaas/secore/internal/audit"
)

// Scoring weights. The score is a cheap heuristic over local history, not a
// security guarantee; external IP-reputation lookups are a future
// integration point, not part of this scorer.
const (
	failureWeight    = 20.0
	failureCap       = 60.0
	privateIPBonus   = -10.0
	newDeviceWeight  = 30.0
	failureWindow    = time.Hour
	suspicionCutoff  = 70.0
	highSeverityFrom = 80.0
)

// Scorer computes login risk scores and escalates suspicious attempts.
type Scorer struct {
	attempts  AttemptStore
	incidents IncidentStore
	auditor   *audit.Logger
	logger    *slog.Logger
}

// NewScorer creates a Scorer. The audit logger may be nil, in which case
// escalations are persisted but not audit-logged.
func NewScorer(attempts AttemptStore, incidents IncidentStore, auditor *audit.Logger, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		attempts:  attempts,
		incidents: incidents,
		auditor:   auditor,
		logger:    logger,
	}
}

// Score computes a risk score in [0, 100] for a login attempt:
//
//   - +20 per failed attempt (password or MFA) for this email in the last
//     hour, capped at +60
//   - -10 when the IP is in a private range
//   - +30 when no prior success exists for this exact (email, userAgent)
//
// The result is clamped to [0, 100].
func (s *Scorer) Score(ctx context.Context, email, ipAddress, userAgent string) (float64, error) {
	score := 0.0

	failures, err := s.attempts.CountFailuresSince(ctx, email, nowUTC().Add(-failureWindow))
	if err != nil {
		return 0, fmt.Errorf("counting recent failures: %w", err)
	}
	score += min(float64(failures)*failureWeight, failureCap)

	if isPrivateIP(ipAddress) {
		score += privateIPBonus
	}

	seen, err := s.attempts.HasSuccess(ctx, email, userAgent)
	if err != nil {
		return 0, fmt.Errorf("checking device history: %w", err)
	}
	if !seen {
		score += newDeviceWeight
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// TrackAttempt scores and records one login attempt, escalating to a
// security incident when the score exceeds the suspicion cutoff or the
// attempt is explicitly flagged suspicious. Returns the attempt ID and the
// computed score.
//
// The score is computed before the attempt is recorded, so the attempt
// being tracked does not count toward its own failure total.
func (s *Scorer) TrackAttempt(ctx context.Context, attempt *Attempt) (string, float64, error) {
	score, err := s.Score(ctx, attempt.Email, attempt.IPAddress, attempt.UserAgent)
	if err != nil {
		return "", 0, err
	}
	attempt.RiskScore = score

	id, err := s.attempts.Record(ctx, attempt)
	if err != nil {
		return "", 0, fmt.Errorf("recording login attempt: %w", err)
	}

	if score > suspicionCutoff || attempt.Status == StatusSuspicious {
		s.escalate(ctx, attempt, score)
	}

	return id, score, nil
}

// escalate creates a security incident and emits a SECURITY_EVENT audit
// entry. Escalation failures are logged but never fail the login path.
func (s *Scorer) escalate(ctx context.Context, attempt *Attempt, score float64) {
	severity := SeverityMedium
	if score >= highSeverityFrom {
		severity = SeverityHigh
	}

	incident := &Incident{
		IncidentType: "suspicious_login",
		Severity:     severity,
		Description: fmt.Sprintf("Suspicious login activity detected for %s from IP %s",
			attempt.Email, attempt.IPAddress),
		DetectionMethod: "automated_risk_scoring",
		Status:          IncidentOpen,
	}
	if attempt.UserID != "" {
		incident.AffectedUsers = []string{attempt.UserID}
	}

	if _, err := s.incidents.Create(ctx, incident); err != nil {
		s.logger.Error("failed to create security incident", "email", attempt.Email, "error", err)
	}

	if s.auditor != nil {
		s.auditor.Log(ctx, audit.Record{
			UserID:       attempt.UserID,
			Action:       audit.ActionSecurityEvent,
			ResourceType: "login_attempt",
			IPAddress:    attempt.IPAddress,
			RiskScore:    score,
			NewValues: map[string]any{
				"incident_type": "suspicious_login",
				"risk_score":    score,
			},
		})
	}
}

// isPrivateIP reports whether the address is in a private or loopback range.
// Unparseable addresses are treated as non-private.
func isPrivateIP(address string) bool {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback()
}
