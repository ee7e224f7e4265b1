// Package apitest runs an in-process fake of the coaching backend for tests.
//
// It implements the routes the engine calls with bcrypt hashed users and HS256
// session tokens, and lets tests inject failures and delays per route and count calls.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type contextKey string

const contextKeyEmail contextKey = "email"

type fault struct {
	status int
	detail string
	once   bool
}

// AdviceCall records one generate-advice request
type AdviceCall struct {
	Language             string
	AvailableTimeMinutes *int
	// SettingsLanguage is the language persisted in settings when the call arrived
	SettingsLanguage string
}

// ProviderAccount is the fitness-tracking account the fake accepts for linking
type ProviderAccount struct {
	Email    string
	Password string
	// Code, when set, makes linking a two step flow that requires this one-time code
	Code string
}

// Server is the fake backend
type Server struct {
	srv    *httptest.Server
	mux    *http.ServeMux
	routes []string
	users  *userStore
	tokens *tokenIssuer

	lock        sync.Mutex
	faults      map[string]fault
	delays      map[string]time.Duration
	calls       map[string]int
	settings    map[string]json.RawMessage
	provider    ProviderAccount
	pendingCode map[string]string // user email -> provider email awaiting a code
	advice      []AdviceCall
	synced      []json.RawMessage
}

// New starts the fake backend; it is closed when the test ends
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		mux:         http.NewServeMux(),
		users:       newUserStore(),
		tokens:      newTokenIssuer(),
		faults:      make(map[string]fault),
		delays:      make(map[string]time.Duration),
		calls:       make(map[string]int),
		settings:    make(map[string]json.RawMessage),
		pendingCode: make(map[string]string),
		provider:    ProviderAccount{Email: "watch@example.com", Password: "watch-pass"},
	}
	s.initRoutes()
	s.srv = httptest.NewServer(s.mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the API base URL, including the /api prefix
func (s *Server) URL() string {
	return s.srv.URL + "/api"
}

func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

func (s *Server) initRoutes() {
	s.registerRoute("POST /auth/register", s.registerHandler(), false)
	s.registerRoute("POST /auth/login", s.loginHandler(), false)
	s.registerRoute("POST /auth/social", s.socialHandler(), false)
	s.registerRoute("GET /auth/me", s.meHandler(), true)
	s.registerRoute("POST /auth/connect-garmin", s.connectHandler(), true)
	s.registerRoute("POST /auth/connect-garmin/mfa", s.connectMFAHandler(), true)

	s.registerRoute("GET /coach/daily-metrics", s.linkedOnly(s.staticHandler(dailyMetricsJSON)), true)
	s.registerRoute("POST /coach/generate-advice", s.generateAdviceHandler(), true)
	s.registerRoute("POST /coach/sync", s.syncHandler(), true)

	s.registerRoute("GET /settings", s.getSettingsHandler(), true)
	s.registerRoute("POST /settings", s.saveSettingsHandler(), true)

	s.registerRoute("GET /dashboard/profile", s.linkedOnly(s.staticHandler(profileJSON)), true)
	s.registerRoute("GET /dashboard/health-history", s.linkedOnly(s.staticHandler(healthHistoryJSON)), true)
	s.registerRoute("GET /dashboard/activities/{id}/details", s.linkedOnly(s.activityHandler()), true)

	s.registerRoute("POST /plan/generate", s.planHandler(), true)
	s.registerRoute("POST /chat/", s.chatHandler(), true)
}

func (s *Server) registerRoute(route string, handler http.HandlerFunc, auth bool) {
	mw := []func(http.HandlerFunc) http.HandlerFunc{s.recoverMiddleware, s.faultMiddleware(route)}
	if auth {
		mw = append(mw, s.requireAuth)
	}
	method, path, _ := strings.Cut(route, " ")
	s.routes = append(s.routes, route)
	s.mux.HandleFunc(method+" /api"+path, chainMiddleware(handler, mw...))
}

// AddUser creates a user and returns a session token for it
func (s *Server) AddUser(t testing.TB, email, password string, options ...UserOption) string {
	t.Helper()
	if _, err := s.users.create(email, password); err != nil {
		t.Fatalf("apitest: add user %s: %v", email, err)
	}
	if err := s.users.update(email, func(u *User) {
		for _, opt := range options {
			opt(u)
		}
	}); err != nil {
		t.Fatalf("apitest: update user %s: %v", email, err)
	}
	return s.IssueToken(t, email)
}

// IssueToken mints a valid session token for an existing user
func (s *Server) IssueToken(t testing.TB, email string) string {
	t.Helper()
	token, err := s.tokens.issue(email)
	if err != nil {
		t.Fatalf("apitest: issue token: %v", err)
	}
	return token
}

// IssueExpiredToken mints a token whose exp claim has already passed
func (s *Server) IssueExpiredToken(t testing.TB, email string) string {
	t.Helper()
	token, err := s.tokens.issueWithExpiry(email, -time.Minute)
	if err != nil {
		t.Fatalf("apitest: issue token: %v", err)
	}
	return token
}

// User returns a copy of the stored user
func (s *Server) User(email string) (User, bool) {
	u, err := s.users.get(email)
	return u, err == nil
}

// RevokeLink disconnects the user's fitness account server side
func (s *Server) RevokeLink(email string) {
	_ = s.users.update(email, func(u *User) { u.LinkedAccountEmail = "" })
}

func (s *Server) SetProviderAccount(account ProviderAccount) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.provider = account
}

// Fail makes every call to route ("GET /coach/daily-metrics") answer status with detail
func (s *Server) Fail(route string, status int, detail string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults[route] = fault{status: status, detail: detail}
}

// FailOnce is Fail for the next call only
func (s *Server) FailOnce(route string, status int, detail string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults[route] = fault{status: status, detail: detail, once: true}
}

// Delay holds every call to route for d before it is handled
func (s *Server) Delay(route string, d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.delays[route] = d
}

// Heal removes faults and delays from route
func (s *Server) Heal(route string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.faults, route)
	delete(s.delays, route)
}

// Calls returns how many requests reached route
func (s *Server) Calls(route string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.calls[route]
}

func (s *Server) TotalCalls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// AdviceCalls returns the generate-advice requests in arrival order
func (s *Server) AdviceCalls() []AdviceCall {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]AdviceCall(nil), s.advice...)
}

func (s *Server) SyncedWorkouts() []json.RawMessage {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]json.RawMessage(nil), s.synced...)
}

func chainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) recoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeDetail(w, http.StatusInternalServerError, fmt.Sprint(rec))
			}
		}()
		next(w, r)
	}
}

// faultMiddleware counts the call, then applies any injected delay and failure
func (s *Server) faultMiddleware(route string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			s.lock.Lock()
			s.calls[route]++
			f, failing := s.faults[route]
			if failing && f.once {
				delete(s.faults, route)
			}
			delay := s.delays[route]
			s.lock.Unlock()

			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-r.Context().Done():
					return
				}
			}
			if failing {
				writeDetail(w, f.status, f.detail)
				return
			}
			next(w, r)
		}
	}
}

// requireAuth validates the Bearer session token and puts the user's email in the context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		email, err := s.tokens.subject(parts[1])
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		if _, err := s.users.get(email); err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), contextKeyEmail, email)))
	}
}

func (s *Server) linkedOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.users.get(emailFrom(r))
		if err != nil || !u.HasLinkedAccount() {
			writeDetail(w, http.StatusBadRequest, "GARMIN_NOT_CONNECTED")
			return
		}
		next(w, r)
	}
}

func emailFrom(r *http.Request) string {
	email, _ := r.Context().Value(contextKeyEmail).(string)
	return email
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
