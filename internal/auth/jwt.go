// Package auth issues and validates the bearer tokens that guard the
// operator endpoints of the API.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenExpiry is how long issued access tokens are valid.
	DefaultTokenExpiry = 1 * time.Hour

	// DefaultIssuer and DefaultAudience are used when JWTConfig leaves them empty.
	DefaultIssuer   = "airwatch"
	DefaultAudience = "airwatch-api"

	// RoleAdmin grants access to operator endpoints such as triggering an ingest.
	RoleAdmin = "admin"
)

// Predefined JWT errors.
var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token has expired")
	ErrMissingSigningKey  = errors.New("signing key is empty")
)

// JWTClaims represents the claims in API access tokens.
type JWTClaims struct {
	jwt.RegisteredClaims

	// Roles lists the operator roles granted to the subject.
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the claims grant role.
func (c *JWTClaims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the HS256 secret.
	SigningKey string

	Issuer   string
	Audience string

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig) *JWTService {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     issuer,
		audience:   audience,
		now:        now,
	}
}

// GenerateAccessToken creates a token for subject carrying roles. A zero
// ttl uses DefaultTokenExpiry.
func (s *JWTService) GenerateAccessToken(subject string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if len(s.signingKey) == 0 {
		return "", time.Time{}, ErrMissingSigningKey
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiry
	}

	now := s.now()
	expiresAt := now.Add(ttl)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Roles: roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *JWTService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	if len(s.signingKey) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, ErrMissingSigningKey)
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccessToken, err.Error())
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
