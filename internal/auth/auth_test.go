package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/collectiond/internal/config"
)

func TestJWTAuthenticator(t *testing.T) {
	ctx := context.Background()
	a, err := NewJWTAuthenticator([]byte("secret"), "collectiond")
	require.NoError(t, err)

	token, err := a.Issue("user1", time.Minute)
	require.NoError(t, err)

	principal, err := a.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user1", principal)

	t.Run("expired", func(t *testing.T) {
		expired, err := a.Issue("user1", -time.Hour)
		require.NoError(t, err)
		_, err = a.Authenticate(ctx, expired)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewJWTAuthenticator([]byte("other"), "collectiond")
		require.NoError(t, err)
		forged, err := other.Issue("user1", time.Minute)
		require.NoError(t, err)
		_, err = a.Authenticate(ctx, forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewJWTAuthenticator([]byte("secret"), "someone-else")
		require.NoError(t, err)
		tok, err := other.Issue("user1", time.Minute)
		require.NoError(t, err)
		_, err = a.Authenticate(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("alg none rejected", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "user1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = a.Authenticate(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty subject", func(t *testing.T) {
		tok, err := a.Issue("", time.Minute)
		require.NoError(t, err)
		_, err = a.Authenticate(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = NewJWTAuthenticator(nil, "")
	assert.Error(t, err)
}

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator(map[string]string{"tok-1": "user1"})

	p, err := a.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user1", p)

	_, err = a.Authenticate(context.Background(), "tok-2")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNew(t *testing.T) {
	a, err := New(config.AuthConfig{Mode: "static", StaticTokens: map[string]string{"user1": "user1"}})
	require.NoError(t, err)
	assert.IsType(t, &StaticAuthenticator{}, a)

	a, err = New(config.AuthConfig{Mode: "jwt", JWTSecret: "s3cret"})
	require.NoError(t, err)
	assert.IsType(t, &JWTAuthenticator{}, a)

	_, err = New(config.AuthConfig{Mode: "jwt"})
	assert.Error(t, err)

	_, err = New(config.AuthConfig{Mode: "ldap"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(Middleware(NewStaticAuthenticator(map[string]string{"user1": "user1"})))
	e.GET("/whoami", func(c echo.Context) error {
		p, err := Principal(c)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.String(http.StatusOK, p)
	})

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"valid", "Bearer user1", http.StatusOK, "user1"},
		{"lowercase scheme", "bearer user1", http.StatusOK, "user1"},
		{"missing header", "", http.StatusUnauthorized, "missing bearer token"},
		{"basic scheme", "Basic dXNlcjE6cHc=", http.StatusUnauthorized, "missing bearer token"},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "missing bearer token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}
