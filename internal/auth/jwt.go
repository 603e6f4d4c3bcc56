// Package auth provides bearer-token authentication, scope checks and
// request rate limiting for the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes granted to API tokens.
const (
	ScopeEnqueue = "enqueue" // publish tasks
	ScopeRead    = "read"    // query delivery records and results
	ScopeAdmin   = "admin"   // dead letter reprocessing
)

// JWTConfig holds JWT signing and expiry configuration.
type JWTConfig struct {
	// Enabled turns on bearer-token auth for /api/v1 routes.
	Enabled     bool          `mapstructure:"enabled"`
	SigningKey  string        `mapstructure:"signing_key"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	Issuer      string        `mapstructure:"issuer"`
	Audience    string        `mapstructure:"audience"`
}

// DefaultJWTConfig returns auth disabled with a 24h token lifetime.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		TokenExpiry: 24 * time.Hour,
		Issuer:      "enroll-notify",
		Audience:    "enroll-notify-api",
	}
}

// Validate checks that an enabled config can sign tokens.
func (c JWTConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.SigningKey) < 16 {
		return errors.New("auth: signing_key of at least 16 bytes is required when auth is enabled")
	}
	if c.TokenExpiry <= 0 {
		return errors.New("auth: token_expiry must be positive")
	}
	return nil
}

// Claims are the claims carried by an API token.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope. ScopeAdmin grants every
// scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope) || slices.Contains(c.Scopes, ScopeAdmin)
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	config JWTConfig
	now    func() time.Time
}

// NewJWTService creates a new JWTService with the given configuration.
func NewJWTService(config JWTConfig) *JWTService {
	return &JWTService{config: config, now: time.Now}
}

// Predefined errors for JWT operations.
var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrSigningMethod  = errors.New("unexpected signing method")
)

// GenerateToken creates a signed token for subject with the given scopes.
func (s *JWTService) GenerateToken(subject string, scopes []string) (string, error) {
	now := s.now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{s.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.SigningKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token string, checking signature,
// expiry, issuer and audience.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSigningMethod
		}
		return []byte(s.config.SigningKey), nil
	}, opts...)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// classifyJWTError maps jwt library errors to domain-specific errors.
func classifyJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return ErrTokenMalformed
	}
	if errors.Is(err, jwt.ErrSignatureInvalid) {
		return ErrTokenInvalid
	}
	if errors.Is(err, ErrSigningMethod) {
		return ErrSigningMethod
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) || errors.Is(err, jwt.ErrTokenInvalidAudience) {
		return ErrTokenInvalid
	}
	return fmt.Errorf("validate token: %w", err)
}
