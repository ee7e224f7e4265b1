package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-coach-engine/entitlement"
	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/jrsteele09/go-coach-engine/session"
)

const (
	loginPath    = "/auth/login"
	registerPath = "/auth/register"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	HasGarminConnected *bool  `json:"has_garmin_connected"`
}

// Start restores a persisted session. Without a token nothing is called and the
// engine stays Anonymous. A rejected or locally expired token is cleared silently.
func (e *Engine) Start(ctx context.Context) error {
	token, ok := e.store.Load()
	if !ok {
		e.logger.Debug().Msg("No persisted session")
		return nil
	}

	s := session.FromToken(token)
	if s.Expired() {
		e.logger.Info().Str("email", s.Email).Msg("Persisted session expired, clearing")
		if err := e.store.Clear(); err != nil {
			e.logger.Err(err).Msg("Failed to clear expired token")
		}
		return nil
	}

	epoch := e.beginSession(s, true)
	if err := e.establish(ctx, epoch, nil); err != nil {
		e.logger.Info().Err(err).Msg("Persisted session not restored")
	}
	return nil
}

// Login authenticates with email and password and establishes a new session
func (e *Engine) Login(ctx context.Context, email, password string) error {
	return e.authenticate(ctx, loginPath, email, password)
}

// Register creates an account and signs into it
func (e *Engine) Register(ctx context.Context, email, password string) error {
	return e.authenticate(ctx, registerPath, email, password)
}

// SocialAuthURL starts a social sign-in and returns the provider URL and state
func (e *Engine) SocialAuthURL() (string, string, error) {
	if e.social == nil {
		return "", "", fmt.Errorf("[SocialAuthURL] social sign-in not configured: %w", coacherrors.ErrInvalidState)
	}
	authURL, state := e.social.AuthCodeURL()
	return authURL, state, nil
}

// LoginWithSocial completes a social sign-in started with SocialAuthURL
func (e *Engine) LoginWithSocial(ctx context.Context, state, code string) error {
	if e.social == nil {
		return fmt.Errorf("[LoginWithSocial] social sign-in not configured: %w", coacherrors.ErrInvalidState)
	}
	if err := e.requireAnonymous("LoginWithSocial"); err != nil {
		return err
	}
	token, err := e.social.Complete(ctx, state, code)
	if err != nil {
		err = fmt.Errorf("[LoginWithSocial] %w", err)
		e.surfaceAnonymous(err)
		return err
	}
	return e.signIn(ctx, token, nil)
}

// Logout ends the session from any state
func (e *Engine) Logout(_ context.Context) error {
	e.endSession(nil)
	if err := e.store.Clear(); err != nil {
		return fmt.Errorf("[Logout] %w", err)
	}
	return nil
}

func (e *Engine) authenticate(ctx context.Context, path, email, password string) error {
	fn := "Login"
	if path == registerPath {
		fn = "Register"
	}
	if err := e.requireAnonymous(fn); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return fmt.Errorf("[%s] email and password are required: %w", fn, coacherrors.ErrInvalidInput)
	}

	var resp tokenResponse
	if err := e.raw.Call(ctx, http.MethodPost, path, credentialsRequest{Email: email, Password: password}, &resp); err != nil {
		err = classifyAuthError(fn, err)
		e.surfaceAnonymous(err)
		return err
	}
	if resp.AccessToken == "" {
		err := fmt.Errorf("[%s] server returned no session token: %w", fn, coacherrors.ErrInvalidCredentials)
		e.surfaceAnonymous(err)
		return err
	}
	return e.signIn(ctx, resp.AccessToken, resp.HasGarminConnected)
}

func classifyAuthError(fn string, err error) error {
	switch gateway.KindOf(err) {
	case gateway.KindUnauthorized:
		return fmt.Errorf("[%s] %w: %w", fn, coacherrors.ErrInvalidCredentials, err)
	case gateway.KindValidation:
		if strings.Contains(strings.ToLower(err.Error()), "already registered") {
			return fmt.Errorf("[%s] %w: %w", fn, coacherrors.ErrAlreadyRegistered, err)
		}
		return fmt.Errorf("[%s] %w: %w", fn, coacherrors.ErrInvalidInput, err)
	default:
		return fmt.Errorf("[%s] %w", fn, err)
	}
}

func (e *Engine) signIn(ctx context.Context, token string, linkHint *bool) error {
	if err := e.store.Save(token); err != nil {
		return fmt.Errorf("[signIn] %w", err)
	}
	epoch := e.beginSession(session.FromToken(token), false)
	return e.establish(ctx, epoch, linkHint)
}

// beginSession installs a new session scope and enters Authenticating.
// A restoring session that gets rejected falls back to Anonymous without a visible error.
func (e *Engine) beginSession(s session.Session, restoring bool) uint64 {
	e.lock.Lock()
	if e.current != nil {
		e.current.end()
	}
	e.epoch++
	epoch := e.epoch
	e.current = newScope(epoch)
	e.current.restoring = restoring
	e.sess = s
	e.ent = entitlement.Restricted
	e.identity = entitlement.Identity{}
	e.lastErr = nil
	events := e.setStateLocked(StateAuthenticating)
	e.lock.Unlock()

	e.publish(events...)
	return epoch
}

// establish resolves entitlement once for the session and routes on linkage.
// linkHint is the login response's linkage flag, used only when identity is unknown.
func (e *Engine) establish(ctx context.Context, epoch uint64, linkHint *bool) error {
	identity, ent, err := e.resolver.Resolve(ctx)
	if err != nil {
		// Only a rejected token gets here; the guard has already ended the session.
		return fmt.Errorf("[establish] %w", err)
	}

	e.lock.Lock()
	if epoch != e.epoch {
		e.lock.Unlock()
		return fmt.Errorf("[establish] %w", coacherrors.ErrSuperseded)
	}
	e.identity = identity
	e.ent = ent
	if e.sess.Email == "" {
		e.sess.Email = identity.Email
	}
	sc := e.current
	sc.restoring = false
	e.lock.Unlock()
	sc.markReady()

	linked := identity.HasLinkedAccount
	if !identity.Known {
		linked = linkHint != nil && *linkHint
		e.logger.Warn().Bool("linked", linked).Msg("Identity unknown, entitlement restricted")
	}
	if !linked {
		e.linker.Reset()
		e.assembler.Reset()
		e.transition(epoch, StateAuthenticatedNoLink)
		return nil
	}

	if !e.linker.IsLinked() {
		e.linker.MarkLinked("")
	}
	if !e.transition(epoch, StateAuthenticatedLoading) {
		return fmt.Errorf("[establish] %w", coacherrors.ErrSuperseded)
	}
	// A failed load is surfaced as a dismissable error; authentication itself succeeded.
	_ = e.loadDashboard(ctx, epoch)
	return nil
}

// onRejected is the guard callback for any unauthorized response
func (e *Engine) onRejected(err error) {
	e.lock.RLock()
	silent := e.current != nil && e.current.restoring
	e.lock.RUnlock()
	if silent {
		e.endSession(nil)
		return
	}
	e.endSession(fmt.Errorf("%w: %w", coacherrors.ErrSessionExpired, err))
}

// endSession forces Anonymous. cause, when set, becomes the user-visible error.
func (e *Engine) endSession(cause error) {
	e.lock.Lock()
	if e.current == nil && e.state == StateAnonymous {
		e.lock.Unlock()
		return
	}
	if e.current != nil {
		e.current.end()
	}
	e.epoch++
	e.current = nil
	e.sess = session.Anonymous
	e.ent = entitlement.Restricted
	e.identity = entitlement.Identity{}
	e.lastErr = cause
	events := e.setStateLocked(StateAnonymous)
	state := e.state
	e.lock.Unlock()

	e.linker.Reset()
	e.assembler.Reset()

	if cause != nil {
		e.logger.Info().Err(cause).Msg("Session ended")
		events = append(events, Event{Kind: EventError, State: state, Err: cause})
	}
	e.publish(events...)
}

func (e *Engine) requireAnonymous(fn string) error {
	if st := e.State(); st != StateAnonymous {
		return fmt.Errorf("[%s] already signed in (%s), log out first: %w", fn, st, coacherrors.ErrInvalidState)
	}
	return nil
}

// surfaceAnonymous records an authentication failure while no session exists
func (e *Engine) surfaceAnonymous(err error) {
	e.lock.Lock()
	e.lastErr = err
	e.lock.Unlock()
	e.logger.Err(err).Msg("Authentication failed")
	e.publish(Event{Kind: EventError, State: StateAnonymous, Err: err})
}
