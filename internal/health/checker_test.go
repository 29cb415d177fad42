package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	err error
}

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

func TestHandler_AllHealthy(t *testing.T) {
	handler := Handler(map[string]Checker{
		"database": stubChecker{},
		"redis":    stubChecker{},
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Checks["database"] != "ok" || body.Checks["redis"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestHandler_Degraded(t *testing.T) {
	handler := Handler(map[string]Checker{
		"database": stubChecker{},
		"redis":    stubChecker{err: errors.New("connection refused")},
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Checks["database"] != "ok" {
		t.Errorf("healthy dependency reported %q", body.Checks["database"])
	}
}
