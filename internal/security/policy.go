package security

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/coamsaas/secore/internal/validate"
)

// bcryptCost is the work factor for password hashes. One-time MFA codes use
// a lower cost; long-lived credentials get the higher one.
const bcryptCost = 12

// PasswordPolicy is the configurable password strength policy.
type PasswordPolicy struct {
	MinLength              int
	MaxLength              int
	RequireUppercase       bool
	RequireLowercase       bool
	RequireNumbers         bool
	RequireSpecialChars    bool
	PreventCommonPasswords bool
	PreventPersonalInfo    bool
}

// DefaultPasswordPolicy returns the baseline policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:              8,
		MaxLength:              128,
		RequireUppercase:       true,
		RequireLowercase:       true,
		RequireNumbers:         true,
		RequireSpecialChars:    true,
		PreventCommonPasswords: true,
		PreventPersonalInfo:    true,
	}
}

var (
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	numberPattern  = regexp.MustCompile(`\d`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// commonPasswords is a minimal denylist; deployments should extend it with
// a proper breached-password list.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"123456":      {},
	"password123": {},
	"admin":       {},
	"letmein":     {},
	"welcome":     {},
	"monkey":      {},
	"1234567890":  {},
	"qwerty":      {},
	"abc123":      {},
}

// Validate checks a password against the policy and returns every violated
// rule, not just the first, so a UI can render a complete checklist. The
// optional email enables the personal-information check.
func (p PasswordPolicy) Validate(password, email string) (bool, []string) {
	var violations []string

	if len(password) < p.MinLength {
		violations = append(violations, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		violations = append(violations, fmt.Sprintf("Password must be no more than %d characters", p.MaxLength))
	}
	if p.RequireUppercase && !upperPattern.MatchString(password) {
		violations = append(violations, "Password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !lowerPattern.MatchString(password) {
		violations = append(violations, "Password must contain at least one lowercase letter")
	}
	if p.RequireNumbers && !numberPattern.MatchString(password) {
		violations = append(violations, "Password must contain at least one number")
	}
	if p.RequireSpecialChars && !specialPattern.MatchString(password) {
		violations = append(violations, "Password must contain at least one special character")
	}

	if p.PreventCommonPasswords {
		if _, common := commonPasswords[strings.ToLower(password)]; common {
			violations = append(violations, "Password is too common - please choose a more secure password")
		}
	}

	if p.PreventPersonalInfo && email != "" {
		localPart := validate.EmailLocalPart(email)
		lowered := strings.ToLower(password)
		if localPart != "" && (strings.Contains(lowered, localPart) || strings.Contains(localPart, lowered)) {
			violations = append(violations, "Password cannot contain parts of your email address")
		}
	}

	return len(violations) == 0, violations
}

// HashPassword hashes a password with bcrypt at the service work factor.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether a password matches its stored hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
