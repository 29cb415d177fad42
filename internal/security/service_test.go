package security

import (
	"context"
	"testing"
	"time"

	"github.com/coamsaas/secore/internal/audit"
	"github.com/coamsaas/secore/internal/auth"
	"github.com/coamsaas/secore/internal/mfa"
	"github.com/coamsaas/secore/internal/risk"
)

type stubUserCounter int

func (c stubUserCounter) CountUsers(context.Context, string) (int, error) {
	return int(c), nil
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *risk.MemoryAttemptStore, *risk.MemoryIncidentStore) {
	t.Helper()
	attempts := risk.NewMemoryAttemptStore()
	incidents := risk.NewMemoryIncidentStore()
	scorer := risk.NewScorer(attempts, incidents, nil, nil)
	jwtSvc := auth.NewJWTService("service-test-secret-32-characters")
	svc := NewService(jwtSvc, scorer, attempts, incidents,
		NewMemorySessionStore(), NewMemoryConsentStore(), opts...)
	return svc, attempts, incidents
}

func TestTrackLoginAttempt_Lockout(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, WithLockout(3, 15*time.Minute))

	attempt := func(status risk.AttemptStatus) *risk.Attempt {
		return &risk.Attempt{
			Email:     "op@example.com",
			IPAddress: "203.0.113.7",
			UserAgent: "curl/8.0",
			Status:    status,
		}
	}

	for i := 0; i < 3; i++ {
		if _, _, err := svc.TrackLoginAttempt(ctx, attempt(risk.StatusFailedPassword)); err != nil {
			t.Fatalf("TrackLoginAttempt() error = %v", err)
		}
	}

	locked, err := svc.IsLockedOut(ctx, "op@example.com")
	if err != nil {
		t.Fatalf("IsLockedOut() error = %v", err)
	}
	if !locked {
		t.Fatal("account not locked after threshold failures")
	}

	// The next failed attempt is downgraded to blocked.
	next := attempt(risk.StatusFailedPassword)
	if _, _, err := svc.TrackLoginAttempt(ctx, next); err != nil {
		t.Fatalf("TrackLoginAttempt() error = %v", err)
	}
	if next.Status != risk.StatusBlocked {
		t.Errorf("status = %q, want %q", next.Status, risk.StatusBlocked)
	}

	// Another email is unaffected.
	locked, err = svc.IsLockedOut(ctx, "other@example.com")
	if err != nil {
		t.Fatalf("IsLockedOut() error = %v", err)
	}
	if locked {
		t.Error("unrelated account locked")
	}
}

func TestTrackLoginAttempt_AuditTrail(t *testing.T) {
	ctx := context.Background()
	auditStore := audit.NewMemoryStore()
	auditor, err := audit.NewLogger(ctx, auditStore)
	if err != nil {
		t.Fatalf("audit.NewLogger() error = %v", err)
	}
	svc, _, _ := newTestService(t, WithAuditor(auditor))

	_, _, err = svc.TrackLoginAttempt(ctx, &risk.Attempt{
		UserID:    "user-1",
		Email:     "op@example.com",
		IPAddress: "203.0.113.7",
		UserAgent: "curl/8.0",
		Status:    risk.StatusSuccess,
	})
	if err != nil {
		t.Fatalf("TrackLoginAttempt() error = %v", err)
	}

	entries, err := auditStore.QueryByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("QueryByUser() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Action != audit.ActionLogin {
		t.Errorf("action = %q, want %q", entries[0].Action, audit.ActionLogin)
	}

	_, _, err = svc.TrackLoginAttempt(ctx, &risk.Attempt{
		UserID:    "user-1",
		Email:     "op@example.com",
		IPAddress: "203.0.113.7",
		UserAgent: "curl/8.0",
		Status:    risk.StatusFailedPassword,
	})
	if err != nil {
		t.Fatalf("TrackLoginAttempt() error = %v", err)
	}

	entries, err = auditStore.QueryByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("QueryByUser() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	var sawFailed bool
	for _, entry := range entries {
		if entry.Action == audit.ActionFailedLogin {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("failed attempt produced no failed_login audit entry")
	}
}

func TestCreateSessionAndLogout(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemorySessionStore()
	attempts := risk.NewMemoryAttemptStore()
	incidents := risk.NewMemoryIncidentStore()
	scorer := risk.NewScorer(attempts, incidents, nil, nil)
	jwtSvc := auth.NewJWTService("service-test-secret-32-characters")
	svc := NewService(jwtSvc, scorer, attempts, incidents, sessions, NewMemoryConsentStore())

	pair, err := svc.CreateTokens("user-1", "tenant-1", "technician")
	if err != nil {
		t.Fatalf("CreateTokens() error = %v", err)
	}

	id, err := svc.CreateSession(ctx, "user-1", "tenant-1", pair, "203.0.113.7", "curl/8.0", true, 10)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	session, err := sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !session.IsActive || !session.MFAVerified {
		t.Error("session should be active and mfa verified")
	}
	if session.TokenHash == pair.AccessToken {
		t.Error("raw access token persisted instead of its hash")
	}
	if session.TokenHash != TokenHash(pair.AccessToken) {
		t.Error("token hash mismatch")
	}
	if !session.ExpiresAt.After(session.CreatedAt) {
		t.Error("expiry not after creation")
	}

	if err := svc.Logout(ctx, id, "user-1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	session, err = sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if session.IsActive {
		t.Error("session still active after logout")
	}
}

func TestRecordPrivacyConsent(t *testing.T) {
	ctx := context.Background()
	consents := NewMemoryConsentStore()
	attempts := risk.NewMemoryAttemptStore()
	incidents := risk.NewMemoryIncidentStore()
	scorer := risk.NewScorer(attempts, incidents, nil, nil)
	jwtSvc := auth.NewJWTService("service-test-secret-32-characters")

	auditStore := audit.NewMemoryStore()
	auditor, err := audit.NewLogger(ctx, auditStore)
	if err != nil {
		t.Fatalf("audit.NewLogger() error = %v", err)
	}
	svc := NewService(jwtSvc, scorer, attempts, incidents,
		NewMemorySessionStore(), consents, WithAuditor(auditor))

	id, err := svc.RecordPrivacyConsent(ctx, &Consent{
		UserID:      "user-1",
		TenantID:    "tenant-1",
		ConsentType: "marketing",
		Granted:     true,
		Purpose:     "email campaigns",
	})
	if err != nil {
		t.Fatalf("RecordPrivacyConsent() error = %v", err)
	}

	latest, err := consents.Latest(ctx, "user-1", "marketing")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest == nil || latest.ID != id {
		t.Fatal("stored consent not found")
	}
	if latest.ConsentText != "User granted consent for email campaigns" {
		t.Errorf("consent text = %q", latest.ConsentText)
	}

	entries, err := auditStore.QueryByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("QueryByUser() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	found := false
	for _, framework := range entries[0].ComplianceFrameworks {
		if framework == audit.FrameworkGDPR {
			found = true
		}
	}
	if !found {
		t.Error("consent audit entry not tagged gdpr")
	}
}

func TestGetSecurityMetrics(t *testing.T) {
	ctx := context.Background()

	mfaConfigs := mfa.NewMemoryConfigStore()
	for _, userID := range []string{"u1", "u2"} {
		if _, err := mfaConfigs.Save(ctx, &mfa.Config{
			UserID: userID, Method: mfa.MethodTOTP, IsActive: true,
		}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	svc, attempts, incidents := newTestService(t,
		WithMFAConfigs(mfaConfigs),
		WithUserCounter(stubUserCounter(8)),
	)

	for i := 0; i < 7; i++ {
		status := risk.StatusSuccess
		if i < 2 {
			status = risk.StatusFailedPassword
		}
		if _, err := attempts.Record(ctx, &risk.Attempt{
			Email: "op@example.com", IPAddress: "203.0.113.7",
			UserAgent: "curl/8.0", Status: status,
		}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if _, err := incidents.Create(ctx, &risk.Incident{
		IncidentType: "suspicious_login", Severity: risk.SeverityMedium,
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	metrics, err := svc.GetSecurityMetrics(ctx, "")
	if err != nil {
		t.Fatalf("GetSecurityMetrics() error = %v", err)
	}

	if metrics.LoginMetrics.TotalLogins24h != 7 {
		t.Errorf("total logins = %d, want 7", metrics.LoginMetrics.TotalLogins24h)
	}
	if metrics.LoginMetrics.FailedLogins24h != 2 {
		t.Errorf("failed logins = %d, want 2", metrics.LoginMetrics.FailedLogins24h)
	}
	wantRate := (1 - 2.0/7.0) * 100
	if diff := metrics.LoginMetrics.SuccessRate - wantRate; diff > 0.001 || diff < -0.001 {
		t.Errorf("success rate = %v, want %v", metrics.LoginMetrics.SuccessRate, wantRate)
	}
	if metrics.SecurityIncidents.OpenIncidents != 1 {
		t.Errorf("open incidents = %d, want 1", metrics.SecurityIncidents.OpenIncidents)
	}
	if metrics.MFAAdoption.MFAEnabled != 2 || metrics.MFAAdoption.TotalUsers != 8 {
		t.Errorf("adoption = %+v", metrics.MFAAdoption)
	}
	if metrics.MFAAdoption.AdoptionRate != 25 {
		t.Errorf("adoption rate = %v, want 25", metrics.MFAAdoption.AdoptionRate)
	}
}

func TestGetSecurityMetrics_ZeroAttempts(t *testing.T) {
	svc, _, _ := newTestService(t)

	metrics, err := svc.GetSecurityMetrics(context.Background(), "")
	if err != nil {
		t.Fatalf("GetSecurityMetrics() error = %v", err)
	}
	// No attempts: success rate is reported as 100%, not NaN.
	if metrics.LoginMetrics.SuccessRate != 100 {
		t.Errorf("success rate = %v, want 100", metrics.LoginMetrics.SuccessRate)
	}
}
