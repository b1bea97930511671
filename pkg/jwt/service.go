package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const devSecret = "devJwtSecretDoNotUseInProduction"

// Service verifies tokens issued by the identity provider
type Service struct {
	secretKey []byte
	expiry    time.Duration
	issuer    string
}

// NewService creates a new JWT service
func NewService(secretKey string, expiry time.Duration, issuer string) *Service {
	if secretKey == "" {
		secretKey = devSecret
	}

	if expiry == 0 {
		expiry = 24 * time.Hour
	}

	return &Service{
		secretKey: []byte(secretKey),
		expiry:    expiry,
		issuer:    issuer,
	}
}

// GenerateToken signs a token for the identity. Only used by tooling and
// tests, real tokens come from the identity provider.
func (s *Service) GenerateToken(identity Identity) (string, error) {
	claims := newClaims(identity, s.issuer, s.expiry, time.Now())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			return s.secretKey, nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingUser
	}

	return claims, nil
}

// Verify returns the user id bound to a token
func (s *Service) Verify(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID(), nil
}
