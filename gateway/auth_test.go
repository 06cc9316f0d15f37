// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthenticator_ValidToken(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret, false)

	req := httptest.NewRequest("POST", "/mcp/query", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{
		"sub":   "user-42",
		"email": "u42@example.com",
		"name":  "User FortyTwo",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))

	identity, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "user-42", identity.UserID)
	assert.Equal(t, "u42@example.com", identity.Email)
	assert.Equal(t, "User FortyTwo", identity.Name)
}

func TestJWTAuthenticator_MissingHeader(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret, false)
	req := httptest.NewRequest("POST", "/mcp/query", nil)

	_, err := auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticator_WrongSecret(t *testing.T) {
	auth := NewJWTAuthenticator("other-secret", false)

	req := httptest.NewRequest("POST", "/mcp/query", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{"sub": "user-42"}))

	_, err := auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticator_ExpiredToken(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret, false)

	req := httptest.NewRequest("POST", "/mcp/query", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}))

	_, err := auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticator_NoSubject(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret, false)

	req := httptest.NewRequest("POST", "/mcp/query", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{"email": "x@y.z"}))

	_, err := auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticator_MockTokenOnlyInDevMode(t *testing.T) {
	req := httptest.NewRequest("POST", "/mcp/query", nil)
	req.Header.Set("Authorization", "Bearer mock-token")

	dev := NewJWTAuthenticator(testSecret, true)
	identity, err := dev.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "dev-user", identity.UserID)

	prod := NewJWTAuthenticator(testSecret, false)
	_, err = prod.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHeaderAuthenticator_Base64JSON(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`{"id":"u-7","email":"seven@example.com","name":"Seven"}`))
	req := httptest.NewRequest("POST", "/mcp/query", nil)
	req.Header.Set(currentUserHeader, payload)

	identity, err := HeaderAuthenticator{}.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "u-7", identity.UserID)
	assert.Equal(t, "seven@example.com", identity.Email)
}

func TestHeaderAuthenticator_PlainIDFallback(t *testing.T) {
	req := httptest.NewRequest("POST", "/mcp/query", nil)
	req.Header.Set(currentUserHeader, "plain-user-id")

	identity, err := HeaderAuthenticator{}.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "plain-user-id", identity.UserID)
}

func TestHeaderAuthenticator_Missing(t *testing.T) {
	req := httptest.NewRequest("POST", "/mcp/query", nil)
	_, err := HeaderAuthenticator{}.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestChainAuthenticator_FallsThrough(t *testing.T) {
	chain := ChainAuthenticator{
		NewJWTAuthenticator(testSecret, false),
		HeaderAuthenticator{},
	}

	req := httptest.NewRequest("POST", "/mcp/query", nil)
	req.Header.Set(currentUserHeader, "gw-user")

	identity, err := chain.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "gw-user", identity.UserID)

	bare := httptest.NewRequest("POST", "/mcp/query", nil)
	_, err = chain.Authenticate(bare)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestUserHeaders(t *testing.T) {
	headers := UserHeaders(&Identity{UserID: "u1", Email: "u1@example.com"}, "apollo")
	assert.Equal(t, "u1", headers["X-User-ID"])
	assert.Equal(t, "u1@example.com", headers["X-User-Email"])
	assert.Equal(t, "apollo", headers["X-Selected-Server"])

	minimal := UserHeaders(&Identity{UserID: "u2"}, "")
	assert.Equal(t, "u2", minimal["X-User-ID"])
	_, hasEmail := minimal["X-User-Email"]
	assert.False(t, hasEmail)
	_, hasServer := minimal["X-Selected-Server"]
	assert.False(t, hasServer)
}
