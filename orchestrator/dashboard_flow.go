package orchestrator

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-coach-engine/account"
	"github.com/jrsteele09/go-coach-engine/advice"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
)

// SubmitAccountLinkCredentials starts linking the fitness account. A one-time code
// challenge moves the engine to MfaPending; a direct link starts loading the dashboard.
func (e *Engine) SubmitAccountLinkCredentials(ctx context.Context, email, secret string) (account.Outcome, error) {
	epoch, err := e.requireState("SubmitAccountLinkCredentials", StateAuthenticatedNoLink, StateMFAPending)
	if err != nil {
		return "", err
	}

	outcome, err := e.linker.SubmitCredentials(ctx, email, secret)
	if err != nil {
		e.surface(epoch, err)
		return "", err
	}
	switch outcome {
	case account.OutcomeNeedsVerification:
		e.transition(epoch, StateMFAPending)
	case account.OutcomeLinked:
		e.afterLinked(ctx, epoch)
	}
	return outcome, nil
}

// SubmitVerificationCode completes a pending link and starts loading the dashboard
func (e *Engine) SubmitVerificationCode(ctx context.Context, code string) error {
	epoch, err := e.requireState("SubmitVerificationCode", StateMFAPending)
	if err != nil {
		return err
	}
	if err := e.linker.SubmitVerificationCode(ctx, "", code); err != nil {
		e.surface(epoch, err)
		return err
	}
	e.afterLinked(ctx, epoch)
	return nil
}

func (e *Engine) afterLinked(ctx context.Context, epoch uint64) {
	e.DismissError()
	if e.transition(epoch, StateAuthenticatedLoading) {
		_ = e.loadDashboard(ctx, epoch)
	}
}

// SyncDashboard re-runs the full assembly, replacing the snapshot and its advice.
// It is also the retry after a failed load.
func (e *Engine) SyncDashboard(ctx context.Context) error {
	epoch, err := e.requireState("SyncDashboard", StateAuthenticatedLoading, StateAuthenticatedReady)
	if err != nil {
		if e.State() == StateAuthenticatedNoLink || e.State() == StateMFAPending {
			return fmt.Errorf("[SyncDashboard] %w", coacherrors.ErrAccountNotLinked)
		}
		return err
	}
	e.DismissError()
	if !e.transition(epoch, StateAuthenticatedLoading) {
		return fmt.Errorf("[SyncDashboard] %w", coacherrors.ErrNotAuthenticated)
	}
	return e.loadDashboard(ctx, epoch)
}

// loadDashboard assembles and routes on the result. Called in AuthenticatedLoading.
func (e *Engine) loadDashboard(ctx context.Context, epoch uint64) error {
	_, err := e.assembler.Assemble(ctx)
	if !e.isCurrent(epoch) {
		return fmt.Errorf("[loadDashboard] %w", coacherrors.ErrNotAuthenticated)
	}

	switch {
	case err == nil:
	case coacherrors.Is(err, coacherrors.ErrSuperseded):
		// A newer load owns the state
		return nil
	case coacherrors.Is(err, coacherrors.ErrAccountNotLinked):
		e.logger.Info().Msg("Account link no longer valid, returning to linking")
		e.linker.Reset()
		e.assembler.Reset()
		e.transition(epoch, StateAuthenticatedNoLink)
		return err
	default:
		e.surface(epoch, err)
		return err
	}

	if !e.transition(epoch, StateAuthenticatedReady) {
		return fmt.Errorf("[loadDashboard] %w", coacherrors.ErrNotAuthenticated)
	}
	e.publish(Event{Kind: EventSnapshotUpdated, State: StateAuthenticatedReady})

	// The one automatic generation for a fresh snapshot
	if _, err := e.advisor.Regenerate(ctx, advice.Request{}); err != nil {
		e.logger.Debug().Err(err).Msg("Automatic advice generation skipped")
	} else {
		e.publishSnapshot(epoch)
	}
	return nil
}

// RequestAdvice generates advice, forcing regeneration when minutes is set.
// It fails with ErrGenerationInProgress while another generation runs.
func (e *Engine) RequestAdvice(ctx context.Context, minutes *int) error {
	epoch, err := e.requireState("RequestAdvice", StateAuthenticatedReady)
	if err != nil {
		return err
	}
	generated, err := e.advisor.MaybeGenerate(ctx, advice.Request{TimeOverrideMinutes: minutes})
	if err != nil {
		return fmt.Errorf("[RequestAdvice] %w", err)
	}
	if generated {
		e.publishSnapshot(epoch)
	}
	return nil
}

// ChangeLanguage persists lang, clears the advice pair and regenerates it in lang
func (e *Engine) ChangeLanguage(ctx context.Context, lang string) error {
	epoch, err := e.requireState("ChangeLanguage", StateAuthenticatedNoLink, StateMFAPending, StateAuthenticatedLoading, StateAuthenticatedReady)
	if err != nil {
		return err
	}
	if err := e.advisor.ChangeLanguage(ctx, lang); err != nil {
		e.surface(epoch, err)
		return err
	}

	e.lock.Lock()
	if sc := e.current; sc != nil && sc.epoch == epoch {
		sc.chat = nil
	}
	e.lock.Unlock()
	e.publishSnapshot(epoch)
	return nil
}

func (e *Engine) publishSnapshot(epoch uint64) {
	if !e.isCurrent(epoch) {
		return
	}
	if _, ok := e.Snapshot(); ok {
		e.publish(Event{Kind: EventSnapshotUpdated, State: e.State()})
	}
}

// requireState returns the session epoch when the engine is in one of states
func (e *Engine) requireState(fn string, states ...State) (uint64, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	if e.current == nil {
		return 0, fmt.Errorf("[%s] %w", fn, coacherrors.ErrNotAuthenticated)
	}
	for _, s := range states {
		if e.state == s {
			return e.epoch, nil
		}
	}
	return 0, fmt.Errorf("[%s] not available in state %s: %w", fn, e.state, coacherrors.ErrInvalidState)
}
