package security

import (
	"strings"
	"testing"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := DefaultPasswordPolicy()

	tests := []struct {
		name           string
		password       string
		email          string
		wantValid      bool
		wantViolations int
	}{
		{
			name:      "strong password",
			password:  "Tr0ub4dor&Three",
			wantValid: true,
		},
		{
			name:           "too short collects every broken rule",
			password:       "ab",
			wantValid:      false,
			wantViolations: 4, // length, uppercase, number, special
		},
		{
			name:           "missing special character",
			password:       "Abcdefg1",
			wantValid:      false,
			wantViolations: 1,
		},
		{
			name:      "denylist is exact match only",
			password:  "Password123!",
			wantValid: true,
		},
		{
			name:           "denylisted regardless of case",
			password:       "LETMEIN",
			wantValid:      false,
			wantViolations: 5, // length, lowercase, number, special, common
		},
		{
			name:           "contains email local part",
			password:       "Dmiller2024!X",
			email:          "dmiller@example.com",
			wantValid:      false,
			wantViolations: 1,
		},
		{
			name:           "too long",
			password:       "Aa1!" + strings.Repeat("x", 130),
			wantValid:      false,
			wantViolations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, violations := policy.Validate(tt.password, tt.email)
			if valid != tt.wantValid {
				t.Errorf("valid = %v, want %v (violations: %v)", valid, tt.wantValid, violations)
			}
			if len(violations) != tt.wantViolations {
				t.Errorf("violations = %d (%v), want %d", len(violations), violations, tt.wantViolations)
			}
		})
	}
}

func TestPasswordPolicy_ReturnsAllViolations(t *testing.T) {
	policy := DefaultPasswordPolicy()

	_, violations := policy.Validate("password", "")
	// Violates: uppercase, number, special, common.
	if len(violations) != 4 {
		t.Errorf("violations = %d (%v), want 4", len(violations), violations)
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Tr0ub4dor&Three")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "Tr0ub4dor&Three" {
		t.Fatal("hash equals plaintext")
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash %q is not bcrypt", hash[:4])
	}

	if !VerifyPassword("Tr0ub4dor&Three", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}
