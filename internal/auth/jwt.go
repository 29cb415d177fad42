// Package auth provides authentication utilities for JWT token management.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type constants for the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Default token expiration durations, overridable per service.
const (
	DefaultAccessTokenExpiry  = 30 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
)

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyUserID is returned when userID is empty.
var ErrEmptyUserID = errors.New("userID cannot be empty")

// ErrWrongTokenType is returned when a token carries an unexpected typ claim,
// e.g. a refresh token presented where an access token is required.
var ErrWrongTokenType = errors.New("wrong token type")

// Claims represents custom JWT claims for the application.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id,omitempty"` // Tenant scope (empty for platform-level tokens)
	Role     string `json:"role,omitempty"`      // Normalized platform role
	Type     string `json:"typ"`                 // Token type: "access" or "refresh"
}

// TokenPair is the result of issuing both tokens for a login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// JWTService handles JWT token operations.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	accessExpiry   time.Duration
	refreshExpiry  time.Duration
	leeway         time.Duration
}

// JWTOption configures a JWTService.
type JWTOption func(*JWTService)

// WithPreviousSecret enables zero-downtime rotation: tokens signed with the
// previous secret keep validating until they expire.
func WithPreviousSecret(secret string) JWTOption {
	return func(s *JWTService) {
		if secret != "" {
			s.previousSecret = []byte(secret)
		}
	}
}

// WithExpiries overrides the access and refresh token lifetimes.
func WithExpiries(access, refresh time.Duration) JWTOption {
	return func(s *JWTService) {
		if access > 0 {
			s.accessExpiry = access
		}
		if refresh > 0 {
			s.refreshExpiry = refresh
		}
	}
}

// WithLeeway overrides the clock-skew leeway used during validation.
func WithLeeway(leeway time.Duration) JWTOption {
	return func(s *JWTService) { s.leeway = leeway }
}

// NewJWTService creates a new JWTService signing with the given secret.
func NewJWTService(secret string, opts ...JWTOption) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(secret),
		accessExpiry:  DefaultAccessTokenExpiry,
		refreshExpiry: DefaultRefreshTokenExpiry,
		leeway:        DefaultLeeway,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateTokens issues an access/refresh pair for a user, optionally scoped
// to a tenant and carrying a role for downstream permission checks.
func (s *JWTService) CreateTokens(userID, tenantID, role string) (*TokenPair, error) {
	access, err := s.GenerateAccessToken(userID, tenantID, role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.GenerateRefreshToken(userID, tenantID, role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, nil
}

// GenerateAccessToken creates a new access token with userID, tenant scope
// and role.
func (s *JWTService) GenerateAccessToken(userID, tenantID, role string) (string, error) {
	return s.generate(userID, tenantID, role, TokenTypeAccess, s.accessExpiry)
}

// GenerateRefreshToken creates a new refresh token. The role is carried so
// a refreshed access token keeps the same permissions.
func (s *JWTService) GenerateRefreshToken(userID, tenantID, role string) (string, error) {
	return s.generate(userID, tenantID, role, TokenTypeRefresh, s.refreshExpiry)
}

func (s *JWTService) generate(userID, tenantID, role, tokenType string, expiry time.Duration) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		TenantID: tenantID,
		Role:     role,
		Type:     tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates a JWT token, returning the claims if valid.
// Supports dual-key rotation: tries currentSecret first, then previousSecret if available.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parseWith(tokenString, s.currentSecret)
	if err == nil {
		return claims, nil
	}

	if s.previousSecret != nil {
		if claims, prevErr := s.parseWith(tokenString, s.previousSecret); prevErr == nil {
			return claims, nil
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

// ValidateAccessToken validates a token and requires the access typ claim.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ValidateRefreshToken validates a token and requires the refresh typ claim.
func (s *JWTService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (s *JWTService) parseWith(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Only HS256 is accepted.
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(s.leeway))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
