package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline-sync-service/internal/config"
)

var secret = []byte("test-secret")

func sign(t *testing.T, key []byte, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "admin@crm.local",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTAuthorizer(t *testing.T) {
	a := NewJWTAuthorizer(secret, "")
	future := time.Now().Add(time.Hour)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		r.Header.Set("Authorization", "Bearer "+sign(t, secret, jwt.SigningMethodHS256, future))
		assert.NoError(t, a.Authorize(r))
	})

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		r.AddCookie(&http.Cookie{Name: "session", Value: sign(t, secret, jwt.SigningMethodHS256, future)})
		assert.NoError(t, a.Authorize(r))
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		assert.ErrorIs(t, a.Authorize(r), ErrMissingCredential)
	})

	t.Run("wrong key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		r.Header.Set("Authorization", "Bearer "+sign(t, []byte("other"), jwt.SigningMethodHS256, future))
		assert.ErrorIs(t, a.Authorize(r), ErrInvalidCredential)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		r.Header.Set("Authorization", "Bearer "+sign(t, secret, jwt.SigningMethodHS512, future))
		assert.ErrorIs(t, a.Authorize(r), ErrInvalidCredential)
	})

	t.Run("expired", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		r.Header.Set("Authorization", "Bearer "+sign(t, secret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, a.Authorize(r), ErrInvalidCredential)
	})
}

func TestNew(t *testing.T) {
	a, err := New(config.AuthConfig{Mode: "allow_all"})
	require.NoError(t, err)
	assert.NoError(t, a.Authorize(httptest.NewRequest(http.MethodGet, "/api/x", nil)))

	a, err = New(config.AuthConfig{Mode: "jwt", JWTSecret: "s"})
	require.NoError(t, err)
	assert.IsType(t, &JWTAuthorizer{}, a)

	_, err = New(config.AuthConfig{Mode: "jwt"})
	assert.Error(t, err)
	_, err = New(config.AuthConfig{Mode: "ldap"})
	assert.Error(t, err)
}
