package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-coach-engine/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) Load() (string, bool) {
	return string(s), s != ""
}

func TestHTTPClient_AttachesBearerAndDecodes(t *testing.T) {
	var gotAuth, gotRequestID, gotContentType string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		gotContentType = r.Header.Get("Content-Type")
		require.Equal(t, "/api/settings", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"language":"tr"}`))
	}))
	defer server.Close()

	c := gateway.NewHTTPClient(server.URL+"/api/", staticTokens("tok-1"), gateway.WithHTTPClient(server.Client()))

	var out struct {
		Language string `json:"language"`
	}
	err := c.Call(context.Background(), http.MethodPost, "/settings", map[string]string{"language": "tr"}, &out)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", gotAuth)
	require.NotEmpty(t, gotRequestID)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "tr", gotBody["language"])
	require.Equal(t, "tr", out.Language)
}

func TestHTTPClient_NoTokenNoHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := gateway.NewHTTPClient(server.URL, staticTokens(""), gateway.WithHTTPClient(server.Client()))
	var out map[string]any
	require.NoError(t, c.Call(context.Background(), http.MethodGet, "/x", nil, &out))
	require.Nil(t, out)
}

func TestHTTPClient_Retries(t *testing.T) {
	t.Run("GET retried on server error", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		c := gateway.NewHTTPClient(server.URL, nil,
			gateway.WithHTTPClient(server.Client()),
			gateway.WithRetries(2, time.Millisecond))
		require.NoError(t, c.Call(context.Background(), http.MethodGet, "/metrics", nil, nil))
		require.Equal(t, int32(3), calls.Load())
	})

	t.Run("POST never retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := gateway.NewHTTPClient(server.URL, nil,
			gateway.WithHTTPClient(server.Client()),
			gateway.WithRetries(3, time.Millisecond))
		err := c.Call(context.Background(), http.MethodPost, "/coach/generate-advice", struct{}{}, nil)
		require.True(t, gateway.IsKind(err, gateway.KindServer))
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("unauthorized never retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := gateway.NewHTTPClient(server.URL, nil,
			gateway.WithHTTPClient(server.Client()),
			gateway.WithRetries(3, time.Millisecond))
		err := c.Call(context.Background(), http.MethodGet, "/auth/me", nil, nil)
		require.True(t, gateway.IsKind(err, gateway.KindUnauthorized))
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestHTTPClient_TimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := gateway.NewHTTPClient(server.URL, nil,
		gateway.WithHTTPClient(server.Client()),
		gateway.WithTimeout(20*time.Millisecond))
	err := c.Call(context.Background(), http.MethodGet, "/slow", nil, nil)
	require.True(t, gateway.IsKind(err, gateway.KindNetwork))
	require.Contains(t, err.Error(), "timed out")
}

func TestHTTPClient_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	c := gateway.NewHTTPClient(server.URL, nil, gateway.WithHTTPClient(server.Client()))
	var out map[string]any
	err := c.Call(context.Background(), http.MethodGet, "/x", nil, &out)
	require.True(t, gateway.IsKind(err, gateway.KindServer))
	require.True(t, strings.Contains(err.Error(), "malformed response"))
}

func TestHTTPClient_RecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	collector := gateway.NewCollector(reg)
	c := gateway.NewHTTPClient(server.URL, nil,
		gateway.WithHTTPClient(server.Client()),
		gateway.WithMetrics(collector),
		gateway.WithRateLimit(1000, 10))

	require.NoError(t, c.Call(context.Background(), http.MethodGet, "/ok", nil, nil))
	require.Error(t, c.Call(context.Background(), http.MethodGet, "/fail", nil, nil))

	count, err := testutil.GatherAndCount(reg, "coach_gateway_calls_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
