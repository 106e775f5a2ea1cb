package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, extractBearerToken(req))

	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", extractBearerToken(req))

	req.Header.Set("Authorization", "bearer abc123")
	assert.Equal(t, "abc123", extractBearerToken(req))

	req.Header.Set("Authorization", "Basic abc123")
	assert.Empty(t, extractBearerToken(req))
}

func TestValidateToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	userID, err := m.validateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-7", userID)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m := NewAuthMiddleware(testSecret)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = m.validateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := NewAuthMiddleware(testSecret)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = m.validateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsMissingSubject(t *testing.T) {
	m := NewAuthMiddleware(testSecret)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = m.validateToken(signed)
	assert.Error(t, err)
}
