// Package auth resolves bearer tokens to principals.
//
// Two modes exist: jwt verifies HS256 tokens and uses the subject claim as
// the principal; static maps configured tokens to principals and exists
// for tests and local development.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fyrsmithlabs/collectiond/internal/config"
	"github.com/fyrsmithlabs/collectiond/internal/tenant"
)

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// JWTAuthenticator verifies HS256 tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a verifier. An empty issuer skips the
// issuer check.
func NewJWTAuthenticator(secret []byte, issuer string) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTAuthenticator{secret: secret, issuer: issuer, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := tenant.ValidatePrincipal(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// Issue signs a token for subject. Used by tests and the CLI.
func (a *JWTAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// StaticAuthenticator maps fixed tokens to principals.
type StaticAuthenticator struct {
	tokens map[string]string
}

// NewStaticAuthenticator copies tokens.
func NewStaticAuthenticator(tokens map[string]string) *StaticAuthenticator {
	m := make(map[string]string, len(tokens))
	for k, v := range tokens {
		m[k] = v
	}
	return &StaticAuthenticator{tokens: m}
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	for known, principal := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return principal, nil
		}
	}
	return "", ErrInvalidToken
}

// New builds the Authenticator selected by cfg.Mode.
func New(cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Mode {
	case "jwt":
		return NewJWTAuthenticator([]byte(cfg.JWTSecret.Value()), cfg.Issuer)
	case "static", "":
		return NewStaticAuthenticator(cfg.StaticTokens), nil
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", cfg.Mode)
	}
}
