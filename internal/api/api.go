// Package api exposes the security core over HTTP. Handlers are thin: they
// decode, delegate, and encode, leaving policy to the underlying packages.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coamsaas/secore/internal/access"
	"github.com/coamsaas/secore/internal/audit"
	"github.com/coamsaas/secore/internal/encryption"
	"github.com/coamsaas/secore/internal/mfa"
	"github.com/coamsaas/secore/internal/middleware"
	"github.com/coamsaas/secore/internal/risk"
	"github.com/coamsaas/secore/internal/security"
	"github.com/coamsaas/secore/internal/validate"
)

// Handlers bundles the services the HTTP layer fronts.
type Handlers struct {
	Service *security.Service
	MFA     *mfa.Manager
	Codec   *encryption.Codec
	Audit   audit.Store
	Logger  *slog.Logger
}

// Routes registers all API routes on the mux. The authn middleware guards
// everything except login.
func (h *Handlers) Routes(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /v1/auth/login", h.login)
	mux.Handle("POST /v1/auth/logout", authn(http.HandlerFunc(h.logout)))
	mux.Handle("POST /v1/mfa/totp/setup", authn(http.HandlerFunc(h.setupTOTP)))
	mux.Handle("POST /v1/mfa/send", authn(http.HandlerFunc(h.sendCode)))
	mux.Handle("POST /v1/mfa/verify", authn(http.HandlerFunc(h.verifyMFA)))
	mux.Handle("POST /v1/records/decrypt", authn(http.HandlerFunc(h.decryptRecord)))
	mux.Handle("POST /v1/records/classify", authn(http.HandlerFunc(h.classifyRecord)))
	mux.Handle("POST /v1/consents", authn(http.HandlerFunc(h.recordConsent)))
	mux.Handle("GET /v1/security/metrics",
		authn(middleware.RequireRole(access.RoleTenantAdmin)(http.HandlerFunc(h.securityMetrics))))
	mux.Handle("GET /v1/audit",
		authn(middleware.RequireRole(access.RoleTenantAdmin)(http.HandlerFunc(h.exportAudit))))
}

type loginRequest struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"` // password already checked upstream
	MFACode  string `json:"mfa_code,omitempty"`
	Method   string `json:"mfa_method,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
}

// login tracks the attempt, scores it, and issues tokens when verified.
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	var role access.Role
	if req.Role != "" {
		var err error
		if role, err = access.Normalize(req.Role); err != nil {
			writeError(w, http.StatusBadRequest, "unknown role")
			return
		}
	}

	status := risk.StatusFailedPassword
	if req.Verified {
		status = risk.StatusSuccess
	}

	mfaVerified := false
	if req.Verified && req.MFACode != "" {
		ok, err := h.MFA.Verify(r.Context(), req.UserID, mfa.Method(req.Method), req.MFACode)
		if err != nil {
			h.Logger.Error("mfa verification failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			status = risk.StatusFailedMFA
		}
		mfaVerified = ok
	}

	attempt := &risk.Attempt{
		UserID:    req.UserID,
		Email:     req.Email,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Status:    status,
	}
	_, score, err := h.Service.TrackLoginAttempt(r.Context(), attempt)
	if err != nil {
		h.Logger.Error("attempt tracking failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if attempt.Status != risk.StatusSuccess {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	pair, err := h.Service.CreateTokens(req.UserID, req.TenantID, string(role))
	if err != nil {
		h.Logger.Error("token issuance failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	sessionID, err := h.Service.CreateSession(r.Context(), req.UserID, req.TenantID,
		pair, attempt.IPAddress, attempt.UserAgent, mfaVerified, score)
	if err != nil {
		h.Logger.Error("session creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"risk_score": score,
		"tokens":     pair,
	})
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	err := h.Service.Logout(r.Context(), req.SessionID, middleware.GetUserID(r.Context()))
	if errors.Is(err, security.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.Logger.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type totpSetupRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) setupTOTP(w http.ResponseWriter, r *http.Request) {
	var req totpSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	setup, err := h.MFA.SetupTOTP(r.Context(), middleware.GetUserID(r.Context()), req.Email)
	if err != nil {
		h.Logger.Error("totp setup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "mfa setup failed")
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

type sendCodeRequest struct {
	Method string `json:"method"`
}

func (h *Handlers) sendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method == "" {
		writeError(w, http.StatusBadRequest, "method is required")
		return
	}

	err := h.MFA.SendCode(r.Context(), middleware.GetUserID(r.Context()), mfa.Method(req.Method))
	if errors.Is(err, mfa.ErrMFA) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		h.Logger.Error("code delivery failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type verifyMFARequest struct {
	Method string `json:"method"`
	Code   string `json:"code"`
}

func (h *Handlers) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "method and code are required")
		return
	}

	ok, err := h.MFA.Verify(r.Context(), middleware.GetUserID(r.Context()), mfa.Method(req.Method), req.Code)
	if err != nil {
		h.Logger.Error("mfa verification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": ok})
}

type decryptRequest struct {
	Record map[string]any `json:"record"`
	Fields []string       `json:"fields"`
}

// decryptRecord runs the bulk PII decryption path. Corrupt fields degrade
// to placeholders rather than failing the whole record.
func (h *Handlers) decryptRecord(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Record == nil {
		writeError(w, http.StatusBadRequest, "record and fields are required")
		return
	}
	fields := make([]string, 0, len(req.Fields))
	for _, raw := range req.Fields {
		name, err := validate.FieldName(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid field name %q", raw))
			return
		}
		fields = append(fields, name)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"record": h.Codec.DecryptFields(req.Record, fields),
	})
}

type classifyRequest struct {
	Record map[string]any `json:"record"`
}

// classifyRecord reports which fields of a record hold values matching known
// PII patterns, so callers can decide what to encrypt before writing.
func (h *Handlers) classifyRecord(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Record == nil {
		writeError(w, http.StatusBadRequest, "record is required")
		return
	}

	matches := make(map[string][]string)
	for name, value := range req.Record {
		text, ok := value.(string)
		if !ok {
			continue
		}
		if found := encryption.DetectPII(text); len(found) > 0 {
			matches[name] = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pii_fields": matches})
}

type consentRequest struct {
	ConsentType string `json:"consent_type"`
	Granted     bool   `json:"granted"`
	Purpose     string `json:"purpose"`
	LegalBasis  string `json:"legal_basis,omitempty"`
}

func (h *Handlers) recordConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConsentType == "" {
		writeError(w, http.StatusBadRequest, "consent_type is required")
		return
	}

	id, err := h.Service.RecordPrivacyConsent(r.Context(), &security.Consent{
		UserID:      middleware.GetUserID(r.Context()),
		TenantID:    middleware.GetTenantID(r.Context()),
		ConsentType: req.ConsentType,
		Granted:     req.Granted,
		Purpose:     req.Purpose,
		LegalBasis:  req.LegalBasis,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		h.Logger.Error("consent recording failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// exportAudit returns a tenant's audit entries for a time window and checks
// that the exported slice still chains together.
func (h *Handlers) exportAudit(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	tenantID := middleware.GetTenantID(r.Context())
	entries, err := h.Audit.QueryByTenant(r.Context(), tenantID, from, to, limit)
	if err != nil {
		h.Logger.Error("audit export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The hash chain runs across all tenants, so link verification is only
	// meaningful for unfiltered exports. Tenant-scoped exports still get
	// per-entry checksum verification.
	var intact bool
	if tenantID == "" {
		ordered := make([]*audit.Entry, len(entries))
		for i, entry := range entries {
			ordered[len(entries)-1-i] = entry
		}
		intact = audit.Verify(ordered) == nil
	} else {
		intact = true
		for _, entry := range entries {
			if audit.VerifyEntry(entry) != nil {
				intact = false
				break
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":      entries,
		"count":        len(entries),
		"chain_intact": intact,
	})
}

func (h *Handlers) securityMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.Service.GetSecurityMetrics(r.Context(), middleware.GetTenantID(r.Context()))
	if err != nil {
		h.Logger.Error("security metrics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// clientIP prefers the X-Forwarded-For chain head set by the load balancer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		for i := 0; i < len(forwarded); i++ {
			if forwarded[i] == ',' {
				return forwarded[:i]
			}
		}
		return forwarded
	}
	return r.RemoteAddr
}
