// Package risk provides login-attempt tracking, heuristic risk scoring, and
// security-incident escalation.
package risk

import (
	"time"
)

// AttemptStatus is the outcome of one authentication attempt.
type AttemptStatus string

// Attempt statuses. Exactly one status per attempt.
const (
	StatusSuccess        AttemptStatus = "success"
	StatusFailedPassword AttemptStatus = "failed_password"
	StatusFailedMFA      AttemptStatus = "failed_mfa"
	StatusBlocked        AttemptStatus = "blocked"
	StatusSuspicious     AttemptStatus = "suspicious"
)

// Incident severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Incident statuses. This package only ever creates incidents in
// StatusOpen; the rest of the lifecycle is driven externally.
const (
	IncidentOpen          = "open"
	IncidentInvestigating = "investigating"
	IncidentResolved      = "resolved"
	IncidentClosed        = "closed"
)

// Attempt is one authentication attempt. Attempts are created once and
// never mutated; the scorer reads past attempts to inform future scores.
type Attempt struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id,omitempty"`
	Email          string        `json:"email"`
	IPAddress      string        `json:"ip_address"`
	UserAgent      string        `json:"user_agent"`
	Status         AttemptStatus `json:"status"`
	MFAMethod      string        `json:"mfa_method,omitempty"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	RiskIndicators []string      `json:"risk_indicators,omitempty"`
	RiskScore      float64       `json:"risk_score"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Incident is an escalation record created when an attempt scores above the
// suspicion threshold or is explicitly flagged suspicious.
type Incident struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id,omitempty"`
	IncidentType      string    `json:"incident_type"`
	Severity          string    `json:"severity"`
	Description       string    `json:"description"`
	AffectedUsers     []string  `json:"affected_users,omitempty"`
	AffectedResources []string  `json:"affected_resources,omitempty"`
	DetectionMethod   string    `json:"detection_method"`
	Status            string    `json:"status"`
	AssignedTo        string    `json:"assigned_to,omitempty"`
	Resolution        string    `json:"resolution,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ResolvedAt        time.Time `json:"resolved_at,omitempty"`
}

// nowUTC returns the current time in UTC; all persisted timestamps are UTC.
func nowUTC() time.Time {
	return time.Now().UTC()
}
