package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-coach-engine/assistant"
	"github.com/jrsteele09/go-coach-engine/dashboard"
	"github.com/jrsteele09/go-coach-engine/entitlement"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/jrsteele09/go-coach-engine/plan"
)

// Action names a premium feature
type Action string

const (
	ActionOpenSettings       Action = "openSettings"
	ActionViewMetricHistory  Action = "viewMetricHistory"
	ActionOpenActivityDetail Action = "openActivityDetail"
	ActionChat               Action = "chat"
	ActionGeneratePlan       Action = "generatePlan"
	ActionSyncWorkout        Action = "syncWorkout"
)

// PerformGatedAction runs fn if the session's entitlement allows premium features.
// It waits for entitlement resolution of the current session rather than assuming
// a default. When the entitlement does not allow it, a paywall event is published,
// fn is not called, and (false, nil) is returned.
func (e *Engine) PerformGatedAction(ctx context.Context, action Action, fn func(context.Context) error) (bool, error) {
	sc := e.currentScope()
	if sc == nil {
		return false, fmt.Errorf("[PerformGatedAction] %w", coacherrors.ErrNotAuthenticated)
	}

	select {
	case <-sc.ready:
	case <-sc.done:
		return false, fmt.Errorf("[PerformGatedAction] %w", coacherrors.ErrNotAuthenticated)
	case <-ctx.Done():
		return false, fmt.Errorf("[PerformGatedAction] %w", ctx.Err())
	}

	e.lock.RLock()
	ent, state, current := e.ent, e.state, e.epoch == sc.epoch
	e.lock.RUnlock()
	if !current {
		return false, fmt.Errorf("[PerformGatedAction] %w", coacherrors.ErrNotAuthenticated)
	}

	if !entitlement.Allow(ent) {
		e.logger.Debug().Str("action", string(action)).Msg("Paywall shown")
		e.publish(Event{Kind: EventPaywall, State: state, Action: action})
		return false, nil
	}
	return true, fn(ctx)
}

// OpenSettings returns the current settings, or the defaults before the first load
func (e *Engine) OpenSettings(ctx context.Context) (dashboard.Settings, bool, error) {
	var s dashboard.Settings
	ok, err := e.PerformGatedAction(ctx, ActionOpenSettings, func(context.Context) error {
		s = e.assembler.Settings()
		return nil
	})
	return s, ok, err
}

// SaveSettings applies mutate to the settings and persists them. Language changes
// go through ChangeLanguage so the advice follows.
func (e *Engine) SaveSettings(ctx context.Context, mutate func(*dashboard.Settings)) (bool, error) {
	return e.PerformGatedAction(ctx, ActionOpenSettings, func(ctx context.Context) error {
		before := e.assembler.Settings().Language
		saved, err := e.assembler.UpdateSettings(ctx, mutate)
		if err != nil {
			return err
		}
		if saved.Language != before {
			return e.ChangeLanguage(ctx, saved.Language)
		}
		return nil
	})
}

// ViewMetricHistory returns the last days days of health data
func (e *Engine) ViewMetricHistory(ctx context.Context, days int) (json.RawMessage, bool, error) {
	var out json.RawMessage
	ok, err := e.PerformGatedAction(ctx, ActionViewMetricHistory, func(ctx context.Context) error {
		var err error
		out, err = e.assembler.HealthHistory(ctx, days)
		return err
	})
	return out, ok, err
}

// OpenActivityDetail returns the detail payload for one activity
func (e *Engine) OpenActivityDetail(ctx context.Context, activityID string) (json.RawMessage, bool, error) {
	var out json.RawMessage
	ok, err := e.PerformGatedAction(ctx, ActionOpenActivityDetail, func(ctx context.Context) error {
		var err error
		out, err = e.assembler.ActivityDetails(ctx, activityID)
		return err
	})
	return out, ok, err
}

// GeneratePlan requests a training plan in the active language
func (e *Engine) GeneratePlan(ctx context.Context, d plan.Duration) (json.RawMessage, bool, error) {
	var out json.RawMessage
	ok, err := e.PerformGatedAction(ctx, ActionGeneratePlan, func(ctx context.Context) error {
		var err error
		out, err = e.planner.Generate(ctx, d, e.assembler.Settings().Language)
		return err
	})
	return out, ok, err
}

// SyncWorkout pushes the current workout to the user's device
func (e *Engine) SyncWorkout(ctx context.Context) (bool, error) {
	return e.PerformGatedAction(ctx, ActionSyncWorkout, e.advisor.SyncWorkout)
}

// SendChatMessage sends text to the coach within the session's conversation
func (e *Engine) SendChatMessage(ctx context.Context, text string) (string, bool, error) {
	var reply string
	ok, err := e.PerformGatedAction(ctx, ActionChat, func(ctx context.Context) error {
		conv := e.conversation()
		if conv == nil {
			return coacherrors.ErrNotAuthenticated
		}
		var err error
		reply, err = conv.Send(ctx, text, e.chatContext())
		return err
	})
	return reply, ok, err
}

func (e *Engine) conversation() *assistant.Conversation {
	lang := e.assembler.Settings().Language
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.current == nil {
		return nil
	}
	if e.current.chat == nil {
		e.current.chat = assistant.NewConversation(e.caller, lang)
	}
	return e.current.chat
}

// chatContext summarizes today's metrics for the assistant
func (e *Engine) chatContext() string {
	snap, ok := e.Snapshot()
	if !ok {
		return ""
	}
	var parts []string
	h := snap.Metrics.Health
	if h.RestingHeartRate != nil {
		parts = append(parts, fmt.Sprintf("resting HR %d", *h.RestingHeartRate))
	}
	if h.BodyBattery != nil {
		parts = append(parts, fmt.Sprintf("body battery %d", *h.BodyBattery))
	}
	if s := snap.Metrics.Sleep.SleepTimeSeconds; s != nil {
		parts = append(parts, fmt.Sprintf("sleep %.1fh", float64(*s)/3600))
	}
	if p := snap.Metrics.Profile; p != nil && p.VO2Max != nil {
		parts = append(parts, fmt.Sprintf("VO2 max %.0f", *p.VO2Max))
	}
	return strings.Join(parts, ", ")
}
