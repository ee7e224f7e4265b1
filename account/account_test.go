package account_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-coach-engine/account"
	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	path   string
	body   any
}

type testFixture struct {
	linker *account.Linker
	calls  []call
	// responder is consulted for each call; it may fill out and return an error
	responder func(path string, out any) error
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{}
	f.linker = account.NewLinker(gateway.CallerFunc(func(_ context.Context, method, path string, body, out any) error {
		f.calls = append(f.calls, call{method: method, path: path, body: body})
		if f.responder == nil {
			return nil
		}
		return f.responder(path, out)
	}))
	return f
}

// newJSONServer answers every request with body and returns a gateway client pointed at it
func newJSONServer(t *testing.T, body string) gateway.Caller {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return gateway.NewHTTPClient(srv.URL, nil, gateway.WithHTTPClient(srv.Client()))
}

func TestLinker_InitialState(t *testing.T) {
	f := setupTestFixture(t)
	link := f.linker.Current()
	require.Equal(t, account.StateUnlinked, link.State)
	require.False(t, link.IsLinked)
	require.False(t, link.PendingVerification)
	require.Empty(t, link.LinkedAccountEmail)
}

func TestLinker_SubmitCredentials(t *testing.T) {
	t.Run("mfa required error moves to pending", func(t *testing.T) {
		f := setupTestFixture(t)
		f.responder = func(string, any) error {
			return &gateway.Error{Kind: gateway.KindMFARequired, Status: http.StatusUnauthorized, Detail: gateway.DetailMFARequired}
		}

		outcome, err := f.linker.SubmitCredentials(context.Background(), "runner@example.com", "pw")
		require.NoError(t, err)
		require.Equal(t, account.OutcomeNeedsVerification, outcome)

		link := f.linker.Current()
		require.Equal(t, account.StateMFAPending, link.State)
		require.True(t, link.PendingVerification)
		require.False(t, link.IsLinked)

		require.Len(t, f.calls, 1)
		require.Equal(t, http.MethodPost, f.calls[0].method)
		require.Equal(t, "/auth/connect-garmin", f.calls[0].path)
	})

	t.Run("validation error is invalid credentials and keeps state", func(t *testing.T) {
		f := setupTestFixture(t)
		f.responder = func(string, any) error {
			return &gateway.Error{Kind: gateway.KindValidation, Status: http.StatusBadRequest, Detail: "Garmin login failed"}
		}

		_, err := f.linker.SubmitCredentials(context.Background(), "runner@example.com", "bad")
		require.ErrorIs(t, err, coacherrors.ErrInvalidCredentials)
		require.Contains(t, err.Error(), "Garmin login failed")
		require.Equal(t, account.StateUnlinked, f.linker.Current().State)
	})

	t.Run("server error keeps state", func(t *testing.T) {
		f := setupTestFixture(t)
		f.responder = func(string, any) error {
			return &gateway.Error{Kind: gateway.KindServer, Status: http.StatusBadGateway}
		}

		_, err := f.linker.SubmitCredentials(context.Background(), "runner@example.com", "pw")
		require.Error(t, err)
		require.Equal(t, gateway.KindServer, gateway.KindOf(err))
		require.Equal(t, account.StateUnlinked, f.linker.Current().State)
	})

	t.Run("missing input issues no call", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.linker.SubmitCredentials(context.Background(), " ", "pw")
		require.ErrorIs(t, err, coacherrors.ErrInvalidInput)
		require.Empty(t, f.calls)
	})
}

func TestLinker_SubmitCredentialsStatusBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		outcome account.Outcome
		state   account.State
		wantErr bool
	}{
		{name: "success", body: `{"status":"SUCCESS"}`, outcome: account.OutcomeLinked, state: account.StateLinked},
		{name: "empty body", body: `{}`, outcome: account.OutcomeLinked, state: account.StateLinked},
		{name: "mfa status", body: `{"status":"MFA_REQUIRED","message":"Check your email"}`, outcome: account.OutcomeNeedsVerification, state: account.StateMFAPending},
		{name: "unknown status", body: `{"status":"LOCKED"}`, state: account.StateUnlinked, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newJSONServer(t, tt.body)
			linker := account.NewLinker(server)

			outcome, err := linker.SubmitCredentials(context.Background(), "runner@example.com", "pw")
			if tt.wantErr {
				require.ErrorIs(t, err, coacherrors.ErrInvalidCredentials)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.outcome, outcome)
			}
			require.Equal(t, tt.state, linker.Current().State)
		})
	}
}

func TestLinker_SubmitVerificationCode(t *testing.T) {
	t.Run("only valid while pending", func(t *testing.T) {
		f := setupTestFixture(t)
		err := f.linker.SubmitVerificationCode(context.Background(), "runner@example.com", "123456")
		require.ErrorIs(t, err, coacherrors.ErrNoPendingLink)
		require.Empty(t, f.calls)
	})

	t.Run("correct code links", func(t *testing.T) {
		f := setupTestFixture(t)
		f.responder = func(string, any) error {
			return &gateway.Error{Kind: gateway.KindMFARequired, Detail: gateway.DetailMFARequired}
		}
		_, err := f.linker.SubmitCredentials(context.Background(), "runner@example.com", "pw")
		require.NoError(t, err)

		f.responder = nil
		require.NoError(t, f.linker.SubmitVerificationCode(context.Background(), "", " 123456 "))

		link := f.linker.Current()
		require.True(t, link.IsLinked)
		require.False(t, link.PendingVerification)
		require.Equal(t, "runner@example.com", link.LinkedAccountEmail)

		require.Len(t, f.calls, 2)
		require.Equal(t, "/auth/connect-garmin/mfa", f.calls[1].path)
	})

	t.Run("wrong code keeps pending", func(t *testing.T) {
		f := setupTestFixture(t)
		f.responder = func(string, any) error {
			return &gateway.Error{Kind: gateway.KindMFARequired, Detail: gateway.DetailMFARequired}
		}
		_, err := f.linker.SubmitCredentials(context.Background(), "runner@example.com", "pw")
		require.NoError(t, err)

		f.responder = func(string, any) error {
			return &gateway.Error{Kind: gateway.KindValidation, Status: http.StatusBadRequest, Detail: "MFA failed"}
		}
		err = f.linker.SubmitVerificationCode(context.Background(), "runner@example.com", "000000")
		require.ErrorIs(t, err, coacherrors.ErrInvalidCode)
		require.Equal(t, account.StateMFAPending, f.linker.Current().State)
	})

	t.Run("empty code rejected locally", func(t *testing.T) {
		f := setupTestFixture(t)
		f.responder = func(string, any) error {
			return &gateway.Error{Kind: gateway.KindMFARequired}
		}
		_, err := f.linker.SubmitCredentials(context.Background(), "runner@example.com", "pw")
		require.NoError(t, err)

		err = f.linker.SubmitVerificationCode(context.Background(), "runner@example.com", "")
		require.ErrorIs(t, err, coacherrors.ErrInvalidCode)
		require.Len(t, f.calls, 1)
	})
}

func TestLinker_MarkLinkedAndReset(t *testing.T) {
	f := setupTestFixture(t)
	f.linker.MarkLinked("runner@example.com")
	require.True(t, f.linker.IsLinked())

	f.linker.Reset()
	require.Equal(t, account.StateUnlinked, f.linker.Current().State)
	require.Empty(t, f.linker.Current().LinkedAccountEmail)
}
