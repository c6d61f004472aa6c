package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the lifetime of a token issued at login.
	DefaultTokenTTL = 3 * time.Hour
	// DefaultSigningSecret is the fixed shared secret used when none is configured.
	DefaultSigningSecret = "secret"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")

	ErrMissingToken     = errors.New("token: missing")
	ErrMalformedToken   = errors.New("token: malformed")
	ErrInvalidSignature = errors.New("token: integrity check failed")
	ErrExpiredToken     = errors.New("token: expired")
	ErrMissingUserID    = errors.New("token: user id claim required")
)

var schemePrefix = regexp.MustCompile(`(?i)^bearer\s+`)

// UserID identifies the account a token was issued to.
type UserID int64

// Claims is the payload carried by an issued token.
type Claims struct {
	UserID UserID `json:"userId"`
	jwt.RegisteredClaims
}

// TokenServiceConfig configures token issuance and verification.
type TokenServiceConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenService issues and verifies the bearer tokens handed out at login.
type TokenService struct {
	signingSecret []byte
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenService constructs a TokenService, defaulting the TTL and clock.
func NewTokenService(cfg TokenServiceConfig) (*TokenService, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenService{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// TTL reports the lifetime applied to issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue produces a signed token for userID that expires after the configured TTL.
func (s *TokenService) Issue(userID UserID) (string, error) {
	if userID == 0 {
		return "", ErrMissingUserID
	}
	now := s.clock().UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(roundUpToSecond(now.Add(s.ttl))),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verification is the outcome of checking a token. Err is nil on success.
type Verification struct {
	Claims Claims
	Err    error
}

// Valid reports whether the token passed every check.
func (v Verification) Valid() bool {
	return v.Err == nil
}

// Verify checks structure, integrity and expiry of token. A token stays valid
// up to and including the instant in its exp claim. It never panics on
// malformed input; failures are reported through the returned Verification.
func (s *TokenService) Verify(token string) Verification {
	raw := StripScheme(token)
	if raw == "" {
		return Verification{Err: ErrMissingToken}
	}
	if !hasThreeSegments(raw) {
		return Verification{Err: ErrMalformedToken}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return Verification{Err: fmt.Errorf("%w: %v", ErrInvalidSignature, err)}
		default:
			return Verification{Err: fmt.Errorf("%w: %v", ErrMalformedToken, err)}
		}
	}
	if parsed == nil || !parsed.Valid {
		return Verification{Err: ErrMalformedToken}
	}
	if claims.ExpiresAt == nil {
		return Verification{Err: fmt.Errorf("%w: exp claim required", ErrMalformedToken)}
	}
	if s.clock().After(claims.ExpiresAt.Time) {
		return Verification{Err: ErrExpiredToken}
	}
	if claims.UserID == 0 {
		return Verification{Err: ErrMissingUserID}
	}
	return Verification{Claims: *claims}
}

// ExtractUserID returns the user id carried by token when it verifies.
func (s *TokenService) ExtractUserID(token string) (UserID, bool) {
	result := s.Verify(token)
	if !result.Valid() {
		return 0, false
	}
	return result.Claims.UserID, true
}

// StripScheme removes a leading, case-insensitive "Bearer" prefix.
func StripScheme(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.TrimSpace(schemePrefix.ReplaceAllString(trimmed, ""))
}

// roundUpToSecond matches the whole-second precision of the exp claim without
// shortening the lifetime.
func roundUpToSecond(instant time.Time) time.Time {
	truncated := instant.Truncate(time.Second)
	if truncated.Before(instant) {
		return truncated.Add(time.Second)
	}
	return truncated
}

func hasThreeSegments(token string) bool {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return false
	}
	for _, segment := range segments {
		if segment == "" {
			return false
		}
	}
	return true
}
