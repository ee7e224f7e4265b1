// Package orchestrator composes the session, account link, entitlement,
// dashboard and advice components into one state machine a view layer
// can drive and observe.
package orchestrator

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-coach-engine/account"
	"github.com/jrsteele09/go-coach-engine/advice"
	"github.com/jrsteele09/go-coach-engine/assistant"
	"github.com/jrsteele09/go-coach-engine/credentials"
	"github.com/jrsteele09/go-coach-engine/dashboard"
	"github.com/jrsteele09/go-coach-engine/entitlement"
	"github.com/jrsteele09/go-coach-engine/gateway"
	"github.com/jrsteele09/go-coach-engine/plan"
	"github.com/jrsteele09/go-coach-engine/session"
	"github.com/rs/zerolog"
)

// State of the session lifecycle
type State string

const (
	StateAnonymous            State = "Anonymous"
	StateAuthenticating       State = "Authenticating"
	StateMFAPending           State = "MfaPending"
	StateAuthenticatedNoLink  State = "AuthenticatedNoLink"
	StateAuthenticatedLoading State = "AuthenticatedLoading"
	StateAuthenticatedReady   State = "AuthenticatedReady"
)

// SocialAuthenticator completes a social sign-in and returns the backend session token
type SocialAuthenticator interface {
	AuthCodeURL() (string, string)
	Complete(ctx context.Context, state, code string) (string, error)
}

// scope lives exactly as long as one session
type scope struct {
	epoch     uint64
	ready     chan struct{} // closed once entitlement resolution settled
	readyOnce sync.Once
	done      chan struct{} // closed when the session ends
	doneOnce  sync.Once
	restoring bool
	chat      *assistant.Conversation
}

func newScope(epoch uint64) *scope {
	return &scope{
		epoch: epoch,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (s *scope) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *scope) end() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Engine is the top-level controller. All entry points are safe for concurrent use;
// none holds the engine lock across a gateway call.
type Engine struct {
	raw       gateway.Caller // unguarded, for calls made before a session exists
	caller    gateway.Caller // guarded by the global rejection rule
	store     *credentials.Store
	linker    *account.Linker
	resolver  *entitlement.Resolver
	assembler *dashboard.Assembler
	advisor   *advice.Controller
	planner   *plan.Service
	social    SocialAuthenticator
	logger    zerolog.Logger

	adminEmails []string

	lock      sync.RWMutex
	state     State
	sess      session.Session
	identity  entitlement.Identity
	ent       entitlement.Entitlement
	epoch     uint64
	current   *scope
	lastErr   error
	observers []Observer
}

type EngineOption func(*Engine)

func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithAdminEmails grants admin entitlement to these accounts
func WithAdminEmails(emails ...string) EngineOption {
	return func(e *Engine) {
		e.adminEmails = append(e.adminEmails, emails...)
	}
}

func WithSocialAuth(social SocialAuthenticator) EngineOption {
	return func(e *Engine) {
		e.social = social
	}
}

// NewEngine wires the components over caller. Every component call goes through a
// rejection guard that clears store and forces the Anonymous state on any unauthorized result.
func NewEngine(caller gateway.Caller, store *credentials.Store, options ...EngineOption) *Engine {
	e := &Engine{
		raw:    caller,
		store:  store,
		logger: zerolog.Nop(),
		state:  StateAnonymous,
		ent:    entitlement.Restricted,
	}
	for _, opt := range options {
		opt(e)
	}

	e.caller = gateway.NewGuard(caller, store, e.onRejected, e.logger)
	e.linker = account.NewLinker(e.caller, account.WithLogger(e.logger))
	e.resolver = entitlement.NewResolver(e.caller, entitlement.WithLogger(e.logger), entitlement.WithAdminEmails(e.adminEmails...))
	e.assembler = dashboard.NewAssembler(e.caller, e.linker, dashboard.WithLogger(e.logger))
	e.advisor = advice.NewController(e.caller, e.assembler, advice.WithLogger(e.logger))
	e.planner = plan.NewService(e.caller)
	return e
}

func (e *Engine) State() State {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.state
}

func (e *Engine) Session() session.Session {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.sess
}

// Entitlement returns the resolved entitlement, Restricted before resolution
func (e *Engine) Entitlement() entitlement.Entitlement {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.ent
}

func (e *Engine) Identity() entitlement.Identity {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.identity
}

func (e *Engine) AccountLink() account.Link {
	return e.linker.Current()
}

// Snapshot returns the current dashboard, absent unless the account is linked
func (e *Engine) Snapshot() (dashboard.Snapshot, bool) {
	if !e.linker.IsLinked() {
		return dashboard.Snapshot{}, false
	}
	return e.assembler.Snapshot()
}

func (e *Engine) IsGenerating() bool {
	return e.advisor.IsGenerating()
}

// LastError is the most recent user-visible error, nil once dismissed
func (e *Engine) LastError() error {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.lastErr
}

func (e *Engine) DismissError() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.lastErr = nil
}
