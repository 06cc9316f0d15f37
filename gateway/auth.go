// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller of a gateway request.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticator extracts a caller identity from an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// JWTAuthenticator validates HS256 bearer tokens. In development mode
// the literal token "mock-token" is accepted and mapped to a fixed
// local identity.
type JWTAuthenticator struct {
	secret  []byte
	devMode bool
}

// NewJWTAuthenticator creates a bearer-token authenticator.
func NewJWTAuthenticator(secret string, devMode bool) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), devMode: devMode}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("%w: missing Authorization header", ErrUnauthenticated)
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return nil, fmt.Errorf("%w: malformed Authorization header", ErrUnauthenticated)
	}

	if a.devMode && token == "mock-token" {
		return &Identity{UserID: "dev-user", Email: "dev@localhost", Name: "Dev User"}, nil
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &Identity{UserID: sub, Email: email, Name: name}, nil
}

// HeaderAuthenticator trusts identity headers injected by an API
// gateway in front of this service. The currentuser header carries
// either a base64-encoded JSON object or a plain user ID.
type HeaderAuthenticator struct{}

// currentUserHeader is the header set by the fronting gateway.
const currentUserHeader = "currentuser"

type headerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (HeaderAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	raw := r.Header.Get(currentUserHeader)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, currentUserHeader)
	}

	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		var user headerUser
		if jsonErr := json.Unmarshal(decoded, &user); jsonErr == nil && user.ID != "" {
			return &Identity{UserID: user.ID, Email: user.Email, Name: user.Name}, nil
		}
	}

	// Plain user ID fallback.
	return &Identity{UserID: raw}, nil
}

// ChainAuthenticator tries each authenticator in order and returns the
// first identity found. All must fail for the request to be rejected.
type ChainAuthenticator []Authenticator

func (c ChainAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	var lastErr error
	for _, a := range c {
		identity, err := a.Authenticate(r)
		if err == nil {
			return identity, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrUnauthenticated
	}
	return nil, lastErr
}

// UserHeaders builds the per-request headers forwarded to the agent
// runtime so upstream servers can attribute tool calls.
func UserHeaders(identity *Identity, serverName string) map[string]string {
	headers := map[string]string{
		"X-User-ID": identity.UserID,
	}
	if identity.Email != "" {
		headers["X-User-Email"] = identity.Email
	}
	if serverName != "" {
		headers["X-Selected-Server"] = serverName
	}
	return headers
}
