// Package account tracks whether the user's fitness-tracking account is linked
// and drives the two step (credentials, then one-time code) linking protocol.
package account

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/rs/zerolog"
)

const (
	connectPath = "/auth/connect-garmin"
	mfaPath     = "/auth/connect-garmin/mfa"
)

// State of the account link
type State string

const (
	StateUnlinked   State = "unlinked"
	StateMFAPending State = "mfaPending"
	StateLinked     State = "linked"
)

// Outcome of a successful SubmitCredentials call
type Outcome string

const (
	OutcomeLinked            Outcome = "linked"
	OutcomeNeedsVerification Outcome = "needsVerification"
)

// Link is a read-only snapshot of the account link
type Link struct {
	State               State
	IsLinked            bool
	PendingVerification bool
	LinkedAccountEmail  string
}

type connectRequest struct {
	Email    string `json:"garmin_email"`
	Password string `json:"garmin_password"`
}

type mfaRequest struct {
	Email string `json:"garmin_email"`
	Code  string `json:"mfa_code"`
}

type connectResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Linker owns the account link state. Failures never change it.
type Linker struct {
	caller gateway.Caller
	logger zerolog.Logger

	lock         sync.RWMutex
	state        State
	linkedEmail  string
	pendingEmail string
}

// LinkerOption configures a Linker
type LinkerOption func(*Linker)

func WithLogger(logger zerolog.Logger) LinkerOption {
	return func(l *Linker) {
		l.logger = logger
	}
}

func NewLinker(caller gateway.Caller, options ...LinkerOption) *Linker {
	l := &Linker{
		caller: caller,
		logger: zerolog.Nop(),
		state:  StateUnlinked,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Current returns the link snapshot
func (l *Linker) Current() Link {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return Link{
		State:               l.state,
		IsLinked:            l.state == StateLinked,
		PendingVerification: l.state == StateMFAPending,
		LinkedAccountEmail:  l.linkedEmail,
	}
}

// IsLinked reports whether dashboard data may be fetched
func (l *Linker) IsLinked() bool {
	return l.Current().IsLinked
}

// SubmitCredentials starts linking. The upstream may link immediately or
// dispatch a one-time code, in which case the link moves to mfaPending.
func (l *Linker) SubmitCredentials(ctx context.Context, email, secret string) (Outcome, error) {
	email = strings.TrimSpace(email)
	if email == "" || secret == "" {
		return "", fmt.Errorf("[SubmitCredentials] email and password are required: %w", coacherrors.ErrInvalidInput)
	}

	var resp connectResponse
	err := l.caller.Call(ctx, http.MethodPost, connectPath, connectRequest{Email: email, Password: secret}, &resp)
	switch {
	case gateway.IsKind(err, gateway.KindMFARequired):
		return l.awaitCode(email), nil
	case gateway.IsKind(err, gateway.KindValidation):
		return "", fmt.Errorf("[SubmitCredentials] %w: %s", coacherrors.ErrInvalidCredentials, detailOf(err))
	case err != nil:
		return "", fmt.Errorf("[SubmitCredentials] %w", err)
	}

	switch status := strings.ToUpper(resp.Status); {
	case strings.Contains(status, "MFA"):
		return l.awaitCode(email), nil
	case status == "" || status == "SUCCESS":
		l.setLinked(email)
		return OutcomeLinked, nil
	default:
		return "", fmt.Errorf("[SubmitCredentials] unexpected link status %q: %w", resp.Status, coacherrors.ErrInvalidCredentials)
	}
}

// SubmitVerificationCode completes a link that is waiting for a one-time code.
func (l *Linker) SubmitVerificationCode(ctx context.Context, email, code string) error {
	code = strings.TrimSpace(code)

	l.lock.RLock()
	state, pending := l.state, l.pendingEmail
	l.lock.RUnlock()

	if state != StateMFAPending {
		return fmt.Errorf("[SubmitVerificationCode] %w", coacherrors.ErrNoPendingLink)
	}
	if email = strings.TrimSpace(email); email == "" {
		email = pending
	}
	if code == "" {
		return fmt.Errorf("[SubmitVerificationCode] %w: empty code", coacherrors.ErrInvalidCode)
	}

	err := l.caller.Call(ctx, http.MethodPost, mfaPath, mfaRequest{Email: email, Code: code}, nil)
	switch {
	case gateway.IsKind(err, gateway.KindValidation), gateway.IsKind(err, gateway.KindMFARequired):
		return fmt.Errorf("[SubmitVerificationCode] %w: %s", coacherrors.ErrInvalidCode, detailOf(err))
	case err != nil:
		return fmt.Errorf("[SubmitVerificationCode] %w", err)
	}

	l.setLinked(email)
	return nil
}

// MarkLinked records linkage reported by the identity call
func (l *Linker) MarkLinked(email string) {
	l.setLinked(email)
}

// Reset returns to unlinked, used on logout and when the server reports the link revoked
func (l *Linker) Reset() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.state = StateUnlinked
	l.linkedEmail = ""
	l.pendingEmail = ""
}

func (l *Linker) awaitCode(email string) Outcome {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.state = StateMFAPending
	l.pendingEmail = email
	l.logger.Info().Str("account", email).Msg("One-time code dispatched for account link")
	return OutcomeNeedsVerification
}

func (l *Linker) setLinked(email string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.state = StateLinked
	l.linkedEmail = email
	l.pendingEmail = ""
}

func detailOf(err error) string {
	var gwErr *gateway.Error
	if coacherrors.As(err, &gwErr) && gwErr.Detail != "" {
		return gwErr.Detail
	}
	return err.Error()
}
