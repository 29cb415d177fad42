// Package audit provides tamper-evident, hash-chained security audit logging
// for compliance and incident response.
package audit

import (
	"time"
)

// Action identifies the kind of event an audit entry records.
type Action string

// Audit actions.
const (
	// Authentication events
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionFailedLogin    Action = "failed_login"
	ActionPasswordReset  Action = "password_reset"
	ActionPasswordChange Action = "password_change"
	ActionMFAEnable      Action = "mfa_enable"
	ActionMFADisable     Action = "mfa_disable"

	// User management
	ActionUserCreate     Action = "user_create"
	ActionUserUpdate     Action = "user_update"
	ActionUserDelete     Action = "user_delete"
	ActionUserActivate   Action = "user_activate"
	ActionUserDeactivate Action = "user_deactivate"
	ActionRoleChange     Action = "role_change"

	// Data operations
	ActionDataAccess     Action = "data_access"
	ActionDataExport     Action = "data_export"
	ActionDataDelete     Action = "data_delete"
	ActionDataEncryption Action = "data_encryption"

	// System events
	ActionSystemConfig  Action = "system_config"
	ActionSecurityEvent Action = "security_event"

	// Tenant management
	ActionTenantCreate Action = "tenant_create"
	ActionTenantUpdate Action = "tenant_update"
	ActionTenantDelete Action = "tenant_delete"

	ActionAdminAction Action = "admin_action"
)

// Compliance frameworks an entry can be tagged with.
const (
	FrameworkSOC2  = "soc2"
	FrameworkGDPR  = "gdpr"
	FrameworkHIPAA = "hipaa"
	FrameworkCCPA  = "ccpa"
)

// Data classification levels for audit entries.
const (
	ClassificationPublic       = "public"
	ClassificationInternal     = "internal"
	ClassificationConfidential = "confidential"
	ClassificationRestricted   = "restricted"
)

// Entry is one immutable audit event. Checksum is a SHA-256 over the
// canonical serialization of every field except ID, Checksum, and Timestamp;
// PreviousLogHash links the entry to its predecessor, forming a
// tamper-evident chain.
type Entry struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Action       Action         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	OldValues    map[string]any `json:"old_values,omitempty"`
	NewValues    map[string]any `json:"new_values,omitempty"`

	// Security context
	IPAddress string  `json:"ip_address,omitempty"`
	UserAgent string  `json:"user_agent,omitempty"`
	RiskScore float64 `json:"risk_score"`

	// Compliance metadata
	DataClassification   string   `json:"data_classification"`
	ComplianceFrameworks []string `json:"compliance_frameworks"`

	// Tamper protection
	Checksum        string `json:"checksum"`
	PreviousLogHash string `json:"previous_log_hash,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// nowUTC returns the current time in UTC; all persisted timestamps are UTC.
func nowUTC() time.Time {
	return time.Now().UTC()
}

// Record is the caller-supplied input for one audit entry.
type Record struct {
	TenantID     string
	UserID       string
	SessionID    string
	Action       Action
	ResourceType string
	ResourceID   string
	OldValues    map[string]any
	NewValues    map[string]any
	IPAddress    string
	UserAgent    string
	RiskScore    float64

	// DataClassification defaults to internal when empty.
	DataClassification string
	// ComplianceFrameworks defaults to [soc2] when empty.
	ComplianceFrameworks []string
}
