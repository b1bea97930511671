package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingUser  = errors.New("token has no subject")
)

// Claims are the identity provider claims the backend relies on.
// Subject carries the provider's stable user id.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the verified user id
func (c *Claims) UserID() string {
	return c.Subject
}

// Identity is the profile information carried by a token
type Identity struct {
	UserID   string
	FullName string
	ImageURL string
}

// Identity converts the claims into a profile
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:   c.Subject,
		FullName: c.Name,
		ImageURL: c.Picture,
	}
}

func newClaims(identity Identity, issuer string, expiry time.Duration, now time.Time) *Claims {
	return &Claims{
		Name:    identity.FullName,
		Picture: identity.ImageURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
}
