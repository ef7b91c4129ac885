package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "bondsphere")
	userID := uuid.New()

	token, err := m.GenerateAccessToken(userID, "ana@example.com", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.True(t, claims.IsAdmin())
}

func TestExpiredToken(t *testing.T) {
	m := NewJWTManager("secret", "bondsphere")

	token, err := m.GenerateAccessToken(uuid.New(), "", RoleUser, -time.Minute)
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenFromOtherSecretOrIssuer(t *testing.T) {
	m := NewJWTManager("secret", "bondsphere")

	other, err := NewJWTManager("other", "bondsphere").GenerateAccessToken(uuid.New(), "", RoleUser, time.Hour)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewJWTManager("secret", "someone-else").GenerateAccessToken(uuid.New(), "", RoleUser, time.Hour)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
