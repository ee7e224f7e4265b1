package apitest

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const defaultTokenExpiry = time.Hour

// tokenIssuer mints and validates the HS256 session tokens the fake backend hands out
type tokenIssuer struct {
	secret []byte
	expiry time.Duration
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret: []byte(uuid.New().String()),
		expiry: defaultTokenExpiry,
	}
}

func (t *tokenIssuer) issue(email string) (string, error) {
	return t.issueWithExpiry(email, t.expiry)
}

func (t *tokenIssuer) issueWithExpiry(email string, expiry time.Duration) (string, error) {
	now := NowTimeFunc()
	claims := jwtlib.MapClaims{
		"sub": email,
		"iat": now.Unix(),
		"exp": now.Add(expiry).Unix(),
		"jti": uuid.New().String(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// subject validates token and returns its subject
func (t *tokenIssuer) subject(token string) (string, error) {
	parsed, err := jwtlib.Parse(token, func(*jwtlib.Token) (any, error) {
		return t.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithTimeFunc(NowTimeFunc))
	if err != nil {
		return "", err
	}
	return parsed.Claims.GetSubject()
}
