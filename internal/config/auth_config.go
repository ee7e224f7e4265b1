package config

import (
	"strings"

	"github.com/jrsteele09/go-coach-engine/internal/utils"
)

type AuthConfig interface {
	GetAdminEmails() []string
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetOIDCClientSecret() string
	GetOIDCRedirectURL() string
}

type Auth struct{}

var _ AuthConfig = Auth{}

// GetAdminEmails lists accounts that bypass the paywall regardless of subscription
func (Auth) GetAdminEmails() []string {
	emails := utils.SplitList(GetEnv("COACH_ADMIN_EMAILS", ""))
	for i := range emails {
		emails[i] = strings.ToLower(emails[i])
	}
	return emails
}

func (Auth) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "https://accounts.google.com")
}

func (Auth) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (Auth) GetOIDCClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

func (Auth) GetOIDCRedirectURL() string {
	return GetEnv("OIDC_REDIRECT_URL", "http://localhost:8765/callback")
}
