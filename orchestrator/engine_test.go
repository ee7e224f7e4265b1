package orchestrator_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-coach-engine/account"
	"github.com/jrsteele09/go-coach-engine/advice"
	"github.com/jrsteele09/go-coach-engine/credentials"
	"github.com/jrsteele09/go-coach-engine/credentials/repofake"
	"github.com/jrsteele09/go-coach-engine/gateway"
	"github.com/jrsteele09/go-coach-engine/internal/apitest"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/jrsteele09/go-coach-engine/orchestrator"
	"github.com/stretchr/testify/require"
)

const (
	userEmail    = "runner@example.com"
	userPassword = "s3cretpass"
	watchEmail   = "watch@example.com"
	watchPass    = "watch-pass"
)

type recorder struct {
	lock   sync.Mutex
	events []orchestrator.Event
}

func (r *recorder) OnEvent(ev orchestrator.Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []orchestrator.State {
	r.lock.Lock()
	defer r.lock.Unlock()
	var out []orchestrator.State
	for _, ev := range r.events {
		if ev.Kind == orchestrator.EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) count(kind orchestrator.EventKind) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) paywalls() []orchestrator.Action {
	r.lock.Lock()
	defer r.lock.Unlock()
	var out []orchestrator.Action
	for _, ev := range r.events {
		if ev.Kind == orchestrator.EventPaywall {
			out = append(out, ev.Action)
		}
	}
	return out
}

type testFixture struct {
	api    *apitest.Server
	repo   *repofake.FakeCredentialRepo
	store  *credentials.Store
	engine *orchestrator.Engine
	events *recorder
}

func setupTestFixture(t *testing.T, persistedToken string, options ...orchestrator.EngineOption) *testFixture {
	t.Helper()
	f := &testFixture{api: apitest.New(t), events: &recorder{}}
	f.newEngine(t, persistedToken, options...)
	return f
}

// newEngine simulates a process start against the same backend
func (f *testFixture) newEngine(t *testing.T, persistedToken string, options ...orchestrator.EngineOption) {
	t.Helper()
	f.repo = repofake.NewFakeCredentialRepo()
	if persistedToken != "" {
		f.repo = repofake.NewFakeCredentialRepoWithToken(persistedToken)
	}
	store, err := credentials.NewStore(f.repo)
	require.NoError(t, err)
	f.store = store

	client := gateway.NewHTTPClient(f.api.URL(), store, gateway.WithHTTPClient(f.api.Client()))
	f.events = &recorder{}
	f.engine = orchestrator.NewEngine(client, store, options...)
	f.engine.Subscribe(f.events)
}

// readyFixture returns an engine in AuthenticatedReady for a linked user
func readyFixture(t *testing.T, options ...apitest.UserOption) *testFixture {
	t.Helper()
	f := setupTestFixture(t, "")
	f.api.AddUser(t, userEmail, userPassword, append([]apitest.UserOption{apitest.Linked(watchEmail)}, options...)...)
	require.NoError(t, f.engine.Login(context.Background(), userEmail, userPassword))
	require.Equal(t, orchestrator.StateAuthenticatedReady, f.engine.State())
	return f
}

func TestEngine_StartWithoutToken(t *testing.T) {
	f := setupTestFixture(t, "")

	require.NoError(t, f.engine.Start(context.Background()))
	require.Equal(t, orchestrator.StateAnonymous, f.engine.State())
	require.Zero(t, f.api.TotalCalls())
	require.Empty(t, f.events.states())
}

func TestEngine_RestoreLinkedSession(t *testing.T) {
	f := setupTestFixture(t, "")
	token := f.api.AddUser(t, userEmail, userPassword, apitest.Linked(watchEmail))
	f.newEngine(t, token)

	require.NoError(t, f.engine.Start(context.Background()))

	require.Equal(t, []orchestrator.State{
		orchestrator.StateAuthenticating,
		orchestrator.StateAuthenticatedLoading,
		orchestrator.StateAuthenticatedReady,
	}, f.events.states())

	snap, ok := f.engine.Snapshot()
	require.True(t, ok)
	require.NotNil(t, snap.Metrics.Health.RestingHeartRate)
	require.Equal(t, 48, *snap.Metrics.Health.RestingHeartRate)
	require.Len(t, snap.Metrics.RecentActivities, 2)
	require.NotNil(t, snap.Metrics.Profile)
	require.NotNil(t, snap.Metrics.Profile.VO2Max)
	require.InDelta(t, 54.0, *snap.Metrics.Profile.VO2Max, 0.001)
	require.True(t, snap.HasAdvice())
	require.True(t, strings.HasPrefix(*snap.Advice, "[en]"))
	require.NotNil(t, snap.Workout)
	require.Equal(t, 3, snap.Workout.StepCount)

	require.Len(t, f.api.AdviceCalls(), 1)
	require.Equal(t, userEmail, f.engine.Session().Email)
}

func TestEngine_RestoreUnlinkedSession(t *testing.T) {
	f := setupTestFixture(t, "")
	token := f.api.AddUser(t, userEmail, userPassword)
	f.newEngine(t, token)

	require.NoError(t, f.engine.Start(context.Background()))

	require.Equal(t, []orchestrator.State{
		orchestrator.StateAuthenticating,
		orchestrator.StateAuthenticatedNoLink,
	}, f.events.states())
	require.Zero(t, f.api.Calls("GET /coach/daily-metrics"))
	_, ok := f.engine.Snapshot()
	require.False(t, ok)
}

func TestEngine_RestoreRejectedOrExpired(t *testing.T) {
	t.Run("expired token is cleared without calls", func(t *testing.T) {
		f := setupTestFixture(t, "")
		f.api.AddUser(t, userEmail, userPassword)
		f.newEngine(t, f.api.IssueExpiredToken(t, userEmail))

		require.NoError(t, f.engine.Start(context.Background()))
		require.Equal(t, orchestrator.StateAnonymous, f.engine.State())
		require.Zero(t, f.api.TotalCalls())
		require.Empty(t, f.repo.Persisted())
	})

	t.Run("rejected token falls back silently", func(t *testing.T) {
		f := setupTestFixture(t, "")
		f.api.AddUser(t, "other@example.com", userPassword)
		f.newEngine(t, f.api.IssueToken(t, "other@example.com"))
		f.api.Fail("GET /auth/me", http.StatusUnauthorized, "Could not validate credentials")

		require.NoError(t, f.engine.Start(context.Background()))
		require.Equal(t, orchestrator.StateAnonymous, f.engine.State())
		require.NoError(t, f.engine.LastError())
		_, ok := f.store.Load()
		require.False(t, ok)
		require.Empty(t, f.repo.Persisted())
		require.Zero(t, f.events.count(orchestrator.EventError))
	})
}

func TestEngine_LoginErrors(t *testing.T) {
	f := setupTestFixture(t, "")
	f.api.AddUser(t, userEmail, userPassword)
	ctx := context.Background()

	t.Run("wrong password", func(t *testing.T) {
		err := f.engine.Login(ctx, userEmail, "nope")
		require.ErrorIs(t, err, coacherrors.ErrInvalidCredentials)
		require.Equal(t, orchestrator.StateAnonymous, f.engine.State())
		require.ErrorIs(t, f.engine.LastError(), coacherrors.ErrInvalidCredentials)
		f.engine.DismissError()
		require.NoError(t, f.engine.LastError())
	})

	t.Run("already registered", func(t *testing.T) {
		err := f.engine.Register(ctx, userEmail, userPassword)
		require.ErrorIs(t, err, coacherrors.ErrAlreadyRegistered)
		require.Equal(t, orchestrator.StateAnonymous, f.engine.State())
	})

	t.Run("weak password", func(t *testing.T) {
		err := f.engine.Register(ctx, "new@example.com", "short")
		require.ErrorIs(t, err, coacherrors.ErrInvalidInput)
	})

	t.Run("missing fields", func(t *testing.T) {
		require.ErrorIs(t, f.engine.Login(ctx, " ", "x"), coacherrors.ErrInvalidInput)
	})

	require.Empty(t, f.repo.Persisted())
}

func TestEngine_RegisterThenLink(t *testing.T) {
	f := setupTestFixture(t, "")
	ctx := context.Background()

	require.NoError(t, f.engine.Register(ctx, "new@example.com", "newpass123"))
	require.Equal(t, orchestrator.StateAuthenticatedNoLink, f.engine.State())
	require.NotEmpty(t, f.repo.Persisted())

	err := f.engine.Login(ctx, "new@example.com", "newpass123")
	require.ErrorIs(t, err, coacherrors.ErrInvalidState)

	outcome, err := f.engine.SubmitAccountLinkCredentials(ctx, watchEmail, watchPass)
	require.NoError(t, err)
	require.Equal(t, account.OutcomeLinked, outcome)
	require.Equal(t, orchestrator.StateAuthenticatedReady, f.engine.State())
	require.True(t, f.engine.AccountLink().IsLinked)
}

func TestEngine_LinkWithVerificationCode(t *testing.T) {
	f := setupTestFixture(t, "")
	f.api.AddUser(t, userEmail, userPassword)
	f.api.SetProviderAccount(apitest.ProviderAccount{Email: watchEmail, Password: watchPass, Code: "123456"})
	ctx := context.Background()
	require.NoError(t, f.engine.Login(ctx, userEmail, userPassword))

	t.Run("wrong secret keeps the link untouched", func(t *testing.T) {
		_, err := f.engine.SubmitAccountLinkCredentials(ctx, watchEmail, "bad")
		require.ErrorIs(t, err, coacherrors.ErrInvalidCredentials)
		require.Equal(t, orchestrator.StateAuthenticatedNoLink, f.engine.State())
		require.Equal(t, account.StateUnlinked, f.engine.AccountLink().State)
	})

	t.Run("code challenge", func(t *testing.T) {
		outcome, err := f.engine.SubmitAccountLinkCredentials(ctx, watchEmail, watchPass)
		require.NoError(t, err)
		require.Equal(t, account.OutcomeNeedsVerification, outcome)
		require.Equal(t, orchestrator.StateMFAPending, f.engine.State())
		require.True(t, f.engine.AccountLink().PendingVerification)
	})

	t.Run("wrong code stays pending", func(t *testing.T) {
		err := f.engine.SubmitVerificationCode(ctx, "000000")
		require.ErrorIs(t, err, coacherrors.ErrInvalidCode)
		require.Equal(t, orchestrator.StateMFAPending, f.engine.State())
	})

	t.Run("correct code loads the dashboard", func(t *testing.T) {
		require.NoError(t, f.engine.SubmitVerificationCode(ctx, "123456"))
		require.Equal(t, orchestrator.StateAuthenticatedReady, f.engine.State())
		require.Equal(t, account.StateLinked, f.engine.AccountLink().State)
		require.NoError(t, f.engine.LastError())
	})

	require.Equal(t, []orchestrator.State{
		orchestrator.StateAuthenticating,
		orchestrator.StateAuthenticatedNoLink,
		orchestrator.StateMFAPending,
		orchestrator.StateAuthenticatedLoading,
		orchestrator.StateAuthenticatedReady,
	}, f.events.states())
}

func TestEngine_GatedActions(t *testing.T) {
	ctx := context.Background()

	t.Run("free user sees the paywall", func(t *testing.T) {
		f := readyFixture(t)
		invoked := false
		ok, err := f.engine.PerformGatedAction(ctx, orchestrator.ActionOpenSettings, func(context.Context) error {
			invoked = true
			return nil
		})
		require.NoError(t, err)
		require.False(t, ok)
		require.False(t, invoked)
		require.Equal(t, []orchestrator.Action{orchestrator.ActionOpenSettings}, f.events.paywalls())
	})

	t.Run("admin without premium is allowed", func(t *testing.T) {
		f := readyFixture(t, apitest.Admin())
		require.False(t, f.engine.Entitlement().IsPremium)
		settings, ok, err := f.engine.OpenSettings(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "Running", settings.PrimarySport)
		require.Empty(t, f.events.paywalls())
	})

	t.Run("admin allow-list", func(t *testing.T) {
		f := setupTestFixture(t, "", orchestrator.WithAdminEmails(strings.ToUpper(userEmail)))
		f.api.AddUser(t, userEmail, userPassword, apitest.Linked(watchEmail))
		require.NoError(t, f.engine.Login(ctx, userEmail, userPassword))
		require.True(t, f.engine.Entitlement().IsAdmin)
	})

	t.Run("active trial is premium", func(t *testing.T) {
		f := readyFixture(t, apitest.Trial(time.Now().Add(72*time.Hour)))
		history, ok, err := f.engine.ViewMetricHistory(ctx, 7)
		require.NoError(t, err)
		require.True(t, ok)
		require.Contains(t, string(history), "restingHeartRate")
	})

	t.Run("expired trial is restricted", func(t *testing.T) {
		f := readyFixture(t, apitest.Trial(time.Now().Add(-time.Hour)))
		_, ok, err := f.engine.OpenActivityDetail(ctx, "2001")
		require.NoError(t, err)
		require.False(t, ok)
		require.Zero(t, f.api.Calls("GET /dashboard/activities/{id}/details"))
	})

	t.Run("premium features", func(t *testing.T) {
		f := readyFixture(t, apitest.Premium())

		detail, ok, err := f.engine.OpenActivityDetail(ctx, "2001")
		require.NoError(t, err)
		require.True(t, ok)
		require.Contains(t, string(detail), "2001")

		reply, ok, err := f.engine.SendChatMessage(ctx, "How was my week?")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "Coach: How was my week?", reply)

		plan, ok, err := f.engine.GeneratePlan(ctx, "1-Week")
		require.NoError(t, err)
		require.True(t, ok)
		require.Contains(t, string(plan), "weeks")

		ok, err = f.engine.SyncWorkout(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, f.api.SyncedWorkouts(), 1)
	})

	t.Run("unknown identity is restricted", func(t *testing.T) {
		f := setupTestFixture(t, "")
		f.api.AddUser(t, userEmail, userPassword, apitest.Linked(watchEmail), apitest.Premium())
		f.api.Fail("GET /auth/me", http.StatusInternalServerError, "boom")

		require.NoError(t, f.engine.Login(ctx, userEmail, userPassword))
		// The login response's linkage flag still routes to the dashboard
		require.Equal(t, orchestrator.StateAuthenticatedReady, f.engine.State())
		require.False(t, f.engine.Identity().Known)

		_, ok, err := f.engine.OpenSettings(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("anonymous", func(t *testing.T) {
		f := setupTestFixture(t, "")
		_, err := f.engine.PerformGatedAction(ctx, orchestrator.ActionChat, func(context.Context) error { return nil })
		require.ErrorIs(t, err, coacherrors.ErrNotAuthenticated)
	})
}

func TestEngine_GatedActionWaitsForEntitlement(t *testing.T) {
	f := setupTestFixture(t, "")
	token := f.api.AddUser(t, userEmail, userPassword, apitest.Premium())
	f.newEngine(t, token)
	f.api.Delay("GET /auth/me", 200*time.Millisecond)

	started := make(chan error, 1)
	go func() { started <- f.engine.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return f.engine.State() == orchestrator.StateAuthenticating
	}, time.Second, 5*time.Millisecond)
	require.False(t, f.engine.Entitlement().IsPremium)

	ran := false
	ok, err := f.engine.PerformGatedAction(context.Background(), orchestrator.ActionOpenSettings, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ran)
	require.Empty(t, f.events.paywalls())
	require.NoError(t, <-started)
}

func TestEngine_RejectionFromAnyComponent(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		route string
		act   func(e *orchestrator.Engine) error
	}{
		{
			name:  "dashboard sync",
			route: "GET /coach/daily-metrics",
			act:   func(e *orchestrator.Engine) error { return e.SyncDashboard(ctx) },
		},
		{
			name:  "advice generation",
			route: "POST /coach/generate-advice",
			act: func(e *orchestrator.Engine) error {
				minutes := 30
				return e.RequestAdvice(ctx, &minutes)
			},
		},
		{
			name:  "settings save",
			route: "POST /settings",
			act:   func(e *orchestrator.Engine) error { return e.ChangeLanguage(ctx, "de") },
		},
		{
			name:  "chat",
			route: "POST /chat/",
			act: func(e *orchestrator.Engine) error {
				_, _, err := e.SendChatMessage(ctx, "hi")
				return err
			},
		},
		{
			name:  "plan",
			route: "POST /plan/generate",
			act: func(e *orchestrator.Engine) error {
				_, _, err := e.GeneratePlan(ctx, "1-Month")
				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := readyFixture(t, apitest.Premium())
			f.api.Fail(tc.route, http.StatusUnauthorized, "Could not validate credentials")

			_ = tc.act(f.engine)

			require.Equal(t, orchestrator.StateAnonymous, f.engine.State())
			require.ErrorIs(t, f.engine.LastError(), coacherrors.ErrSessionExpired)
			_, ok := f.store.Load()
			require.False(t, ok)
			require.Empty(t, f.repo.Persisted())
			_, ok = f.engine.Snapshot()
			require.False(t, ok)
			require.False(t, f.engine.Entitlement().IsPremium)
		})
	}
}

func TestEngine_DashboardFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("overlay failures still reach ready", func(t *testing.T) {
		f := setupTestFixture(t, "")
		f.api.AddUser(t, userEmail, userPassword, apitest.Linked(watchEmail))
		f.api.Fail("GET /dashboard/profile", http.StatusInternalServerError, "boom")
		f.api.Fail("GET /settings", http.StatusInternalServerError, "boom")

		require.NoError(t, f.engine.Login(ctx, userEmail, userPassword))
		require.Equal(t, orchestrator.StateAuthenticatedReady, f.engine.State())
		snap, ok := f.engine.Snapshot()
		require.True(t, ok)
		require.Nil(t, snap.Metrics.Profile)
		require.Nil(t, snap.Settings)
		require.Equal(t, "en", snap.Language())
		require.NoError(t, f.engine.LastError())
	})

	t.Run("metrics failure stays loading until retried", func(t *testing.T) {
		f := setupTestFixture(t, "")
		f.api.AddUser(t, userEmail, userPassword, apitest.Linked(watchEmail))
		f.api.Fail("GET /coach/daily-metrics", http.StatusBadGateway, "upstream down")

		require.NoError(t, f.engine.Login(ctx, userEmail, userPassword))
		require.Equal(t, orchestrator.StateAuthenticatedLoading, f.engine.State())
		require.ErrorIs(t, f.engine.LastError(), coacherrors.ErrAssemblyFailed)
		_, ok := f.engine.Snapshot()
		require.False(t, ok)

		f.api.Heal("GET /coach/daily-metrics")
		require.NoError(t, f.engine.SyncDashboard(ctx))
		require.Equal(t, orchestrator.StateAuthenticatedReady, f.engine.State())
		require.NoError(t, f.engine.LastError())
	})

	t.Run("revoked link returns to linking", func(t *testing.T) {
		f := readyFixture(t)
		f.api.RevokeLink(userEmail)

		err := f.engine.SyncDashboard(ctx)
		require.ErrorIs(t, err, coacherrors.ErrAccountNotLinked)
		require.Equal(t, orchestrator.StateAuthenticatedNoLink, f.engine.State())
		require.False(t, f.engine.AccountLink().IsLinked)
		_, ok := f.engine.Snapshot()
		require.False(t, ok)

		err = f.engine.SyncDashboard(ctx)
		require.ErrorIs(t, err, coacherrors.ErrAccountNotLinked)
	})

	t.Run("advice failure shows the fallback", func(t *testing.T) {
		f := setupTestFixture(t, "")
		f.api.AddUser(t, userEmail, userPassword, apitest.Linked(watchEmail))
		f.api.Fail("POST /coach/generate-advice", http.StatusInternalServerError, "model unavailable")

		require.NoError(t, f.engine.Login(ctx, userEmail, userPassword))
		snap, ok := f.engine.Snapshot()
		require.True(t, ok)
		require.Equal(t, advice.FallbackMessage, *snap.Advice)
		require.Nil(t, snap.Workout)
	})
}

func TestEngine_Advice(t *testing.T) {
	ctx := context.Background()
	f := readyFixture(t)
	require.Len(t, f.api.AdviceCalls(), 1)

	// Advice already present; no second call without an override
	require.NoError(t, f.engine.RequestAdvice(ctx, nil))
	require.Len(t, f.api.AdviceCalls(), 1)

	minutes := 25
	require.NoError(t, f.engine.RequestAdvice(ctx, &minutes))
	calls := f.api.AdviceCalls()
	require.Len(t, calls, 2)
	require.Equal(t, 25, *calls[1].AvailableTimeMinutes)
	snap, _ := f.engine.Snapshot()
	require.Contains(t, *snap.Advice, "25 minutes")

	zero := 0
	require.ErrorIs(t, f.engine.RequestAdvice(ctx, &zero), coacherrors.ErrInvalidInput)

	require.NoError(t, f.engine.SyncDashboard(ctx))
	require.Len(t, f.api.AdviceCalls(), 3)
}

func TestEngine_ChangeLanguage(t *testing.T) {
	ctx := context.Background()
	f := readyFixture(t)

	require.NoError(t, f.engine.ChangeLanguage(ctx, "es"))

	require.Equal(t, "es", f.api.Language(userEmail))
	calls := f.api.AdviceCalls()
	require.Len(t, calls, 2)
	require.Equal(t, "es", calls[1].Language)
	require.Equal(t, "es", calls[1].SettingsLanguage)

	snap, ok := f.engine.Snapshot()
	require.True(t, ok)
	require.True(t, strings.HasPrefix(*snap.Advice, "[es]"))
	require.Equal(t, "es", snap.Language())

	t.Run("save failure changes nothing", func(t *testing.T) {
		f.api.FailOnce("POST /settings", http.StatusInternalServerError, "db down")
		err := f.engine.ChangeLanguage(ctx, "fr")
		require.Error(t, err)
		snap, _ := f.engine.Snapshot()
		require.True(t, strings.HasPrefix(*snap.Advice, "[es]"))
		require.Len(t, f.api.AdviceCalls(), 2)
	})

	t.Run("persists before linking", func(t *testing.T) {
		g := setupTestFixture(t, "")
		g.api.AddUser(t, userEmail, userPassword)
		require.NoError(t, g.engine.Login(ctx, userEmail, userPassword))
		require.NoError(t, g.engine.ChangeLanguage(ctx, "tr"))
		require.Equal(t, "tr", g.api.Language(userEmail))
		require.Empty(t, g.api.AdviceCalls())
	})
}

func TestEngine_Logout(t *testing.T) {
	ctx := context.Background()
	f := readyFixture(t, apitest.Premium())

	require.NoError(t, f.engine.Logout(ctx))
	require.Equal(t, orchestrator.StateAnonymous, f.engine.State())
	require.Empty(t, f.repo.Persisted())
	_, ok := f.engine.Snapshot()
	require.False(t, ok)
	require.False(t, f.engine.Entitlement().IsPremium)
	require.NoError(t, f.engine.LastError())

	_, _, err := f.engine.OpenSettings(ctx)
	require.ErrorIs(t, err, coacherrors.ErrNotAuthenticated)

	// Signing in again starts a fresh session
	require.NoError(t, f.engine.Login(ctx, userEmail, userPassword))
	require.Equal(t, orchestrator.StateAuthenticatedReady, f.engine.State())
	require.True(t, f.engine.Entitlement().IsPremium)
}
