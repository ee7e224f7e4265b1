// Package dashboard assembles the composite dashboard snapshot from the
// mandatory metrics call and the optional settings and profile overlays.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	metricsPath       = "/coach/daily-metrics"
	settingsPath      = "/settings"
	profilePath       = "/dashboard/profile"
	healthHistoryPath = "/dashboard/health-history"
	activityPath      = "/dashboard/activities/%s/details"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// LinkState reports whether the fitness account is linked
type LinkState interface {
	IsLinked() bool
}

// AdviceTicket identifies the snapshot and advice epoch a generation was started against
type AdviceTicket struct {
	Generation uint64
	Epoch      uint64
}

// Assembler owns the current Snapshot. Only ReplaceAdvice and ClearAdvice
// touch its derived fields.
type Assembler struct {
	caller gateway.Caller
	link   LinkState
	logger zerolog.Logger

	lock        sync.RWMutex
	issued      uint64
	applied     uint64
	adviceEpoch uint64
	snapshot    *Snapshot
}

type AssemblerOption func(*Assembler)

func WithLogger(logger zerolog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

func NewAssembler(caller gateway.Caller, link LinkState, options ...AssemblerOption) *Assembler {
	a := &Assembler{
		caller: caller,
		link:   link,
		logger: zerolog.Nop(),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Assemble fetches a fresh snapshot and replaces the current one, advice included.
// A result is applied only if no later-issued Assemble has been applied first;
// otherwise ErrSuperseded is returned and nothing changes.
func (a *Assembler) Assemble(ctx context.Context) (Snapshot, error) {
	if !a.link.IsLinked() {
		return Snapshot{}, fmt.Errorf("[Assemble] %w", coacherrors.ErrAccountNotLinked)
	}

	a.lock.Lock()
	a.issued++
	ticket := a.issued
	a.lock.Unlock()

	var body json.RawMessage
	if err := a.caller.Call(ctx, http.MethodGet, metricsPath, nil, &body); err != nil {
		switch gateway.KindOf(err) {
		case gateway.KindNotLinked, gateway.KindMFARequired:
			return Snapshot{}, fmt.Errorf("[Assemble] %w: %w", coacherrors.ErrAccountNotLinked, err)
		default:
			return Snapshot{}, fmt.Errorf("[Assemble] %w: %w", coacherrors.ErrAssemblyFailed, err)
		}
	}

	var (
		settings *Settings
		profile  *ProfileExtras
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var s Settings
		if err := a.caller.Call(gctx, http.MethodGet, settingsPath, nil, &s); err != nil {
			a.logger.Warn().Err(err).Msg("Settings overlay unavailable")
			return nil
		}
		if s.Language == "" {
			s.Language = DefaultLanguage
		}
		settings = &s
		return nil
	})
	g.Go(func() error {
		var raw json.RawMessage
		if err := a.caller.Call(gctx, http.MethodGet, profilePath, nil, &raw); err != nil {
			a.logger.Warn().Err(err).Msg("Profile overlay unavailable")
			return nil
		}
		profile = projectProfile(raw)
		return nil
	})
	_ = g.Wait()

	metrics := projectMetrics(body)
	metrics.Profile = profile

	a.lock.Lock()
	defer a.lock.Unlock()
	if ticket <= a.applied {
		a.logger.Debug().Uint64("generation", ticket).Uint64("applied", a.applied).Msg("Discarding superseded dashboard result")
		return Snapshot{}, fmt.Errorf("[Assemble] %w", coacherrors.ErrSuperseded)
	}
	a.applied = ticket
	a.adviceEpoch++
	a.snapshot = &Snapshot{
		Generation: ticket,
		FetchedAt:  NowTimeFunc(),
		Metrics:    metrics,
		Settings:   settings,
	}
	return *a.snapshot, nil
}

// Snapshot returns a copy of the current snapshot
func (a *Assembler) Snapshot() (Snapshot, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if a.snapshot == nil {
		return Snapshot{}, false
	}
	return *a.snapshot, true
}

// BeginAdvice returns the current snapshot and the ticket a generation must present
// to ReplaceAdvice.
func (a *Assembler) BeginAdvice() (Snapshot, AdviceTicket, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if a.snapshot == nil {
		return Snapshot{}, AdviceTicket{}, fmt.Errorf("[BeginAdvice] %w", coacherrors.ErrNoSnapshot)
	}
	return *a.snapshot, AdviceTicket{Generation: a.snapshot.Generation, Epoch: a.adviceEpoch}, nil
}

// ReplaceAdvice writes advice and workout together. It reports false, writing
// nothing, when the snapshot was replaced or the advice cleared since the ticket was taken.
func (a *Assembler) ReplaceAdvice(ticket AdviceTicket, advice string, workout *Workout) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.snapshot == nil || a.snapshot.Generation != ticket.Generation || a.adviceEpoch != ticket.Epoch {
		return false
	}
	a.snapshot.Advice = &advice
	a.snapshot.Workout = workout
	return true
}

// ClearAdvice drops advice and workout together and invalidates outstanding tickets
func (a *Assembler) ClearAdvice() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.adviceEpoch++
	if a.snapshot != nil {
		a.snapshot.Advice = nil
		a.snapshot.Workout = nil
	}
}

// Reset forgets the snapshot and supersedes every in-flight Assemble
func (a *Assembler) Reset() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.applied = a.issued
	a.adviceEpoch++
	a.snapshot = nil
}

// Settings returns the settings overlay or the defaults when it is absent
func (a *Assembler) Settings() Settings {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if a.snapshot == nil || a.snapshot.Settings == nil {
		return DefaultSettings()
	}
	return *a.snapshot.Settings
}

// UpdateSettings applies mutate to the current settings and persists the result.
// On success the snapshot's settings overlay is replaced.
func (a *Assembler) UpdateSettings(ctx context.Context, mutate func(*Settings)) (Settings, error) {
	s := a.Settings()
	mutate(&s)

	var saved Settings
	if err := a.caller.Call(ctx, http.MethodPost, settingsPath, s, &saved); err != nil {
		return Settings{}, fmt.Errorf("[UpdateSettings] failed to save settings: %w", err)
	}
	if saved.Language == "" {
		// Server echoed nothing useful
		saved = s
	}

	a.lock.Lock()
	if a.snapshot != nil {
		a.snapshot.Settings = &saved
	}
	a.lock.Unlock()
	return saved, nil
}

// HealthHistory returns the daily health series for the last days days
func (a *Assembler) HealthHistory(ctx context.Context, days int) (json.RawMessage, error) {
	if days <= 0 {
		return nil, fmt.Errorf("[HealthHistory] days must be positive: %w", coacherrors.ErrInvalidInput)
	}
	path := healthHistoryPath + "?" + url.Values{"days": {strconv.Itoa(days)}}.Encode()
	var out json.RawMessage
	if err := a.caller.Call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("[HealthHistory] %w", err)
	}
	return out, nil
}

// ActivityDetails returns the provider's detail payload for one activity
func (a *Assembler) ActivityDetails(ctx context.Context, activityID string) (json.RawMessage, error) {
	if activityID == "" {
		return nil, fmt.Errorf("[ActivityDetails] activity id required: %w", coacherrors.ErrInvalidInput)
	}
	var out json.RawMessage
	if err := a.caller.Call(ctx, http.MethodGet, fmt.Sprintf(activityPath, url.PathEscape(activityID)), nil, &out); err != nil {
		return nil, fmt.Errorf("[ActivityDetails] %w", err)
	}
	return out, nil
}
