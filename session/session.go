// Package session describes the authenticated identity context of the process.
package session

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Session is created on login, registration, social sign-in or token restore
// and destroyed on logout or token rejection.
type Session struct {
	Token           string    // Bearer token, opaque to the engine
	Email           string    // Subject claim when the token is a JWT
	ExpiresAt       time.Time // Zero when the token carries no exp claim
	IsAuthenticated bool
}

// Anonymous is the zero session
var Anonymous = Session{}

// FromToken builds an authenticated session for token.
// JWT claims are read without verification; the server stays the authority on validity.
func FromToken(token string) Session {
	s := Session{Token: token, IsAuthenticated: token != ""}
	if c, ok := parseClaims(token); ok {
		s.Email = c.email
		s.ExpiresAt = c.expiresAt
	}
	return s
}

// Expired reports whether the token's own exp claim has passed.
// Opaque tokens never expire locally.
func (s Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && !NowTimeFunc().Before(s.ExpiresAt)
}

type claims struct {
	email     string
	expiresAt time.Time
}

func parseClaims(token string) (claims, bool) {
	if strings.Count(token, ".") != 2 {
		return claims{}, false
	}
	parsed, _, err := jwtlib.NewParser().ParseUnverified(token, jwtlib.MapClaims{})
	if err != nil {
		return claims{}, false
	}
	mc, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return claims{}, false
	}

	var c claims
	if sub, err := mc.GetSubject(); err == nil {
		c.email = sub
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.expiresAt = exp.Time
	}
	return c, true
}
