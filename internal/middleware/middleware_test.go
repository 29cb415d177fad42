package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coamsaas/secore/internal/access"
	"github.com/coamsaas/secore/internal/auth"
)

func TestRequestID(t *testing.T) {
	t.Run("generates when absent", func(t *testing.T) {
		var captured string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if captured == "" {
			t.Error("no request ID in context")
		}
		if rec.Header().Get(RequestIDHeader) != captured {
			t.Error("response header does not match context value")
		}
	})

	t.Run("propagates incoming header", func(t *testing.T) {
		var captured string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-id")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if captured != "upstream-id" {
			t.Errorf("request ID = %q, want upstream-id", captured)
		}
	})
}

func TestAuthenticate(t *testing.T) {
	jwtSvc := auth.NewJWTService("middleware-test-secret-32-chars!!")

	protected := Authenticate(jwtSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context()) + "/" + GetTenantID(r.Context())))
	}))

	t.Run("valid access token", func(t *testing.T) {
		token, err := jwtSvc.GenerateAccessToken("user-1", "tenant-1", "viewer")
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got := rec.Body.String(); got != "user-1/tenant-1" {
			t.Errorf("context scope = %q, want user-1/tenant-1", got)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		token, err := jwtSvc.GenerateRefreshToken("user-1", "", "")
		if err != nil {
			t.Fatalf("GenerateRefreshToken() error = %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nonsense")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(access.RoleDispatcher)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		role       string
		wantStatus int
	}{
		{"higher role passes", "tenant_admin", http.StatusOK},
		{"exact role passes", "dispatcher", http.StatusOK},
		{"super admin passes", "super_admin", http.StatusOK},
		{"lower role forbidden", "viewer", http.StatusForbidden},
		{"legacy spelling forbidden below level", "tech", http.StatusForbidden},
		{"missing role forbidden", "", http.StatusForbidden},
		{"unknown role forbidden", "wizard", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.role != "" {
				req = req.WithContext(SetRole(req.Context(), tt.role))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("role %q: status = %d, want %d", tt.role, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestLogging_CapturesStatus(t *testing.T) {
	logger := NewLogger("test")
	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}
