// Package advice decides when the AI advice and workout pair is (re)generated
// and writes the result back into the dashboard snapshot.
package advice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jrsteele09/go-coach-engine/dashboard"
	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/rs/zerolog"
)

const (
	generatePath = "/coach/generate-advice"
	syncPath     = "/coach/sync"
)

// FallbackMessage replaces the advice whenever generation fails
const FallbackMessage = "Sorry, I could not generate advice today. Your metrics are up to date; try again in a moment."

// Request carries the optional overrides of one generation. Any override forces
// regeneration even when advice already exists.
type Request struct {
	TimeOverrideMinutes *int
	LanguageOverride    *string
}

func (r Request) forced() bool {
	return r.TimeOverrideMinutes != nil || r.LanguageOverride != nil
}

// SnapshotStore is the part of the dashboard assembler the controller works against
type SnapshotStore interface {
	Snapshot() (dashboard.Snapshot, bool)
	BeginAdvice() (dashboard.Snapshot, dashboard.AdviceTicket, error)
	ReplaceAdvice(ticket dashboard.AdviceTicket, advice string, workout *dashboard.Workout) bool
	ClearAdvice()
	UpdateSettings(ctx context.Context, mutate func(*dashboard.Settings)) (dashboard.Settings, error)
}

type generateRequest struct {
	RecentActivities     json.RawMessage `json:"recent_activities"`
	TodaysActivities     json.RawMessage `json:"todays_activities,omitempty"`
	WeeklyVolume         json.RawMessage `json:"weekly_volume"`
	HealthStats          json.RawMessage `json:"health_stats"`
	SleepData            json.RawMessage `json:"sleep_data"`
	Profile              json.RawMessage `json:"profile"`
	Language             string          `json:"language"`
	AvailableTimeMinutes *int            `json:"available_time_minutes,omitempty"`
}

type generateResponse struct {
	Advice  string          `json:"advice"`
	Workout json.RawMessage `json:"workout"`
}

type syncRequest struct {
	Workout json.RawMessage `json:"workout"`
}

// Controller serializes generation: while one is running, others are rejected, not queued.
type Controller struct {
	caller gateway.Caller
	store  SnapshotStore
	logger zerolog.Logger

	lock       sync.Mutex
	generating bool
	settled    chan struct{}
}

type ControllerOption func(*Controller)

func WithLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

func NewController(caller gateway.Caller, store SnapshotStore, options ...ControllerOption) *Controller {
	c := &Controller{
		caller: caller,
		store:  store,
		logger: zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// IsGenerating reports whether a generation call is in flight
func (c *Controller) IsGenerating() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.generating
}

// MaybeGenerate issues one generation unless advice already exists and no override
// is given. It reports whether a generation call was made. Generation failures are
// absorbed into the fallback message; the returned error only covers calls that
// could not start (busy, no snapshot, bad overrides).
func (c *Controller) MaybeGenerate(ctx context.Context, req Request) (bool, error) {
	if req.TimeOverrideMinutes != nil && *req.TimeOverrideMinutes <= 0 {
		return false, fmt.Errorf("[MaybeGenerate] available time must be positive: %w", coacherrors.ErrInvalidInput)
	}

	c.lock.Lock()
	if c.generating {
		c.lock.Unlock()
		return false, fmt.Errorf("[MaybeGenerate] %w", coacherrors.ErrGenerationInProgress)
	}
	snap, ticket, err := c.store.BeginAdvice()
	if err != nil {
		c.lock.Unlock()
		return false, fmt.Errorf("[MaybeGenerate] %w", err)
	}
	if snap.HasAdvice() && !req.forced() {
		c.lock.Unlock()
		return false, nil
	}
	c.generating = true
	c.settled = make(chan struct{})
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		c.generating = false
		close(c.settled)
		c.lock.Unlock()
	}()

	c.generate(ctx, snap, ticket, req)
	return true, nil
}

// Regenerate runs MaybeGenerate once any in-flight generation has settled.
// Used for the automatic trigger after a fresh snapshot and for language changes,
// neither of which may be dropped because something else was running.
func (c *Controller) Regenerate(ctx context.Context, req Request) (bool, error) {
	for {
		generated, err := c.MaybeGenerate(ctx, req)
		if !coacherrors.Is(err, coacherrors.ErrGenerationInProgress) {
			return generated, err
		}
		if err := c.waitSettled(ctx); err != nil {
			return false, fmt.Errorf("[Regenerate] %w", err)
		}
	}
}

// ChangeLanguage persists the language, clears the advice pair and regenerates
// it in the new language. The pair is cleared before the new generation starts.
func (c *Controller) ChangeLanguage(ctx context.Context, lang string) error {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return fmt.Errorf("[ChangeLanguage] language required: %w", coacherrors.ErrInvalidInput)
	}

	if _, err := c.store.UpdateSettings(ctx, func(s *dashboard.Settings) { s.Language = lang }); err != nil {
		return fmt.Errorf("[ChangeLanguage] %w", err)
	}
	c.store.ClearAdvice()

	if _, ok := c.store.Snapshot(); !ok {
		// Nothing to regenerate yet; the next assemble picks the language up from settings
		return nil
	}
	if _, err := c.Regenerate(ctx, Request{LanguageOverride: &lang}); err != nil && !coacherrors.Is(err, coacherrors.ErrNoSnapshot) {
		return fmt.Errorf("[ChangeLanguage] %w", err)
	}
	return nil
}

// SyncWorkout sends the current workout to the user's device
func (c *Controller) SyncWorkout(ctx context.Context) error {
	snap, ok := c.store.Snapshot()
	if !ok || snap.Workout == nil || len(snap.Workout.Raw) == 0 {
		return fmt.Errorf("[SyncWorkout] %w", coacherrors.ErrNoWorkout)
	}
	if err := c.caller.Call(ctx, http.MethodPost, syncPath, syncRequest{Workout: snap.Workout.Raw}, nil); err != nil {
		return fmt.Errorf("[SyncWorkout] %w", err)
	}
	c.logger.Info().Str("workout", snap.Workout.Name).Msg("Workout synced to device")
	return nil
}

func (c *Controller) generate(ctx context.Context, snap dashboard.Snapshot, ticket dashboard.AdviceTicket, req Request) {
	lang := snap.Language()
	if req.LanguageOverride != nil {
		lang = *req.LanguageOverride
	}
	m := snap.Metrics
	body := generateRequest{
		RecentActivities:     m.RecentActivitiesRaw,
		TodaysActivities:     m.TodaysActivitiesRaw,
		WeeklyVolume:         m.WeeklyVolume,
		HealthStats:          m.Health.Raw,
		SleepData:            m.Sleep.Raw,
		Language:             lang,
		AvailableTimeMinutes: req.TimeOverrideMinutes,
	}
	if m.Profile != nil {
		body.Profile = m.Profile.Raw
	}

	advice, workout := FallbackMessage, (*dashboard.Workout)(nil)
	var resp generateResponse
	if err := c.caller.Call(ctx, http.MethodPost, generatePath, body, &resp); err != nil {
		c.logger.Warn().Err(err).Str("language", lang).Msg("Advice generation failed, showing fallback")
	} else if strings.TrimSpace(resp.Advice) == "" {
		c.logger.Warn().Str("language", lang).Msg("Advice generation returned no text, showing fallback")
	} else {
		advice, workout = resp.Advice, dashboard.ParseWorkout(resp.Workout)
	}

	if !c.store.ReplaceAdvice(ticket, advice, workout) {
		c.logger.Debug().Uint64("generation", ticket.Generation).Msg("Discarding advice for a replaced snapshot")
	}
}

func (c *Controller) waitSettled(ctx context.Context) error {
	c.lock.Lock()
	settled := c.settled
	busy := c.generating
	c.lock.Unlock()
	if !busy {
		return nil
	}
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
