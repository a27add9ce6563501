// Package auth decides whether a request may reach the API surface.
//
// The check is pluggable: AllowAll keeps the historical offline-friendly
// default, JWTAuthorizer verifies an HMAC-signed session token.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"offline-sync-service/internal/config"
)

var (
	ErrMissingCredential = errors.New("missing session credential")
	ErrInvalidCredential = errors.New("invalid session credential")
)

type Authorizer interface {
	Authorize(r *http.Request) error
}

// Func adapts a plain function to Authorizer.
type Func func(r *http.Request) error

func (f Func) Authorize(r *http.Request) error {
	return f(r)
}

type AllowAll struct{}

func (AllowAll) Authorize(*http.Request) error {
	return nil
}

// JWTAuthorizer accepts requests carrying an HS256 token either as a Bearer
// Authorization header or in the session cookie.
type JWTAuthorizer struct {
	secret     []byte
	cookieName string
	now        func() time.Time
}

func NewJWTAuthorizer(secret []byte, cookieName string) *JWTAuthorizer {
	if cookieName == "" {
		cookieName = "session"
	}
	return &JWTAuthorizer{secret: secret, cookieName: cookieName, now: time.Now}
}

func (a *JWTAuthorizer) Authorize(r *http.Request) error {
	token := credential(r, a.cookieName)
	if token == "" {
		return ErrMissingCredential
	}

	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return nil
}

func credential(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// New builds the authorizer selected by cfg.Mode.
func New(cfg config.AuthConfig) (Authorizer, error) {
	switch cfg.Mode {
	case "", "allow_all":
		return AllowAll{}, nil
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("jwt secret is required")
		}
		return NewJWTAuthorizer([]byte(cfg.JWTSecret), cfg.CookieName), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
