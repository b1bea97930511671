package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("secret", time.Hour, "music-stream")

	token, err := svc.GenerateToken(Identity{UserID: "user_123", FullName: "Ada", ImageURL: "https://img/ada.png"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", claims.UserID())
	assert.Equal(t, Identity{UserID: "user_123", FullName: "Ada", ImageURL: "https://img/ada.png"}, claims.Identity())

	userID, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", userID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewService("one", time.Hour, "").GenerateToken(Identity{UserID: "u"})
	require.NoError(t, err)

	_, err = NewService("two", time.Hour, "").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token, err := NewService("s", time.Hour, "someone-else").GenerateToken(Identity{UserID: "u"})
	require.NoError(t, err)

	_, err = NewService("s", time.Hour, "music-stream").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpired(t *testing.T) {
	svc := NewService("s", time.Hour, "")
	claims := newClaims(Identity{UserID: "u"}, "", time.Minute, time.Now().Add(-time.Hour))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(svc.secretKey)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRequiresSubject(t *testing.T) {
	svc := NewService("s", time.Hour, "")
	token, err := svc.GenerateToken(Identity{})
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewService("s", time.Hour, "").ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
