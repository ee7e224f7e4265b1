// Package socialauth signs a user in through an OpenID Connect provider and
// exchanges the verified ID token for a coaching session token.
package socialauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	exchangePath = "/auth/social"
	pendingTTL   = 10 * time.Minute
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Config describes the identity provider
type Config struct {
	Provider     string // name sent to the backend, e.g. "google"
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

type pendingAuth struct {
	codeVerifier string
	nonce        string
	createdAt    time.Time
}

type exchangeRequest struct {
	Provider string `json:"provider"`
	IDToken  string `json:"id_token"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Flow runs the authorization code flow with PKCE and a nonce per attempt
type Flow struct {
	provider string
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	caller   gateway.Caller
	logger   zerolog.Logger

	lock    sync.Mutex
	pending map[string]pendingAuth
}

type FlowOption func(*Flow)

func WithLogger(logger zerolog.Logger) FlowOption {
	return func(f *Flow) {
		f.logger = logger
	}
}

// NewFlow discovers the provider at cfg.Issuer
func NewFlow(ctx context.Context, cfg Config, caller gateway.Caller, options ...FlowOption) (*Flow, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("[NewFlow] failed to create OIDC provider: %w", err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return NewFlowWithVerifier(cfg.Provider, oauthCfg, verifier, caller, options...), nil
}

// NewFlowWithVerifier builds a flow from an already configured client and verifier
func NewFlowWithVerifier(provider string, oauthCfg *oauth2.Config, verifier *oidc.IDTokenVerifier, caller gateway.Caller, options ...FlowOption) *Flow {
	f := &Flow{
		provider: provider,
		oauth:    oauthCfg,
		verifier: verifier,
		caller:   caller,
		logger:   zerolog.Nop(),
		pending:  make(map[string]pendingAuth),
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// AuthCodeURL starts an attempt and returns the URL to send the user to, and its state
func (f *Flow) AuthCodeURL() (string, string) {
	state := generateRandomString(24)
	p := pendingAuth{
		codeVerifier: oauth2.GenerateVerifier(),
		nonce:        generateRandomString(24),
		createdAt:    NowTimeFunc(),
	}

	f.lock.Lock()
	f.pruneLocked()
	f.pending[state] = p
	f.lock.Unlock()

	return f.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(p.codeVerifier), oidc.Nonce(p.nonce)), state
}

// Complete redeems the callback's code, verifies the ID token and returns the
// backend session token.
func (f *Flow) Complete(ctx context.Context, state, code string) (string, error) {
	f.lock.Lock()
	p, ok := f.pending[state]
	delete(f.pending, state)
	f.lock.Unlock()
	if !ok || NowTimeFunc().Sub(p.createdAt) > pendingTTL {
		return "", fmt.Errorf("[Complete] unknown or expired state: %w", coacherrors.ErrInvalidCredentials)
	}

	oauthToken, err := f.oauth.Exchange(ctx, code, oauth2.VerifierOption(p.codeVerifier))
	if err != nil {
		return "", fmt.Errorf("[Complete] token exchange failed: %w", err)
	}
	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("[Complete] no id_token in response: %w", coacherrors.ErrInvalidCredentials)
	}

	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("[Complete] id token verification failed: %w", coacherrors.Join(coacherrors.ErrInvalidCredentials, err))
	}
	var claims struct {
		Nonce string `json:"nonce"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("[Complete] failed to extract claims: %w", err)
	}
	if claims.Nonce != p.nonce {
		return "", fmt.Errorf("[Complete] nonce mismatch: %w", coacherrors.ErrInvalidCredentials)
	}

	var resp exchangeResponse
	if err := f.caller.Call(ctx, http.MethodPost, exchangePath, exchangeRequest{Provider: f.provider, IDToken: rawIDToken}, &resp); err != nil {
		if gateway.IsKind(err, gateway.KindValidation) || gateway.IsKind(err, gateway.KindUnauthorized) {
			return "", fmt.Errorf("[Complete] %w: %w", coacherrors.ErrInvalidCredentials, err)
		}
		return "", fmt.Errorf("[Complete] %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("[Complete] backend returned no session token: %w", coacherrors.ErrInvalidCredentials)
	}
	f.logger.Info().Str("provider", f.provider).Str("email", claims.Email).Msg("Social sign-in completed")
	return resp.AccessToken, nil
}

func (f *Flow) pruneLocked() {
	now := NowTimeFunc()
	for state, p := range f.pending {
		if now.Sub(p.createdAt) > pendingTTL {
			delete(f.pending, state)
		}
	}
}

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
