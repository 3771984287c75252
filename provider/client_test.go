package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sleep-debt/provider"
	"github.com/warp/sleep-debt/sleep"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestClient(t *testing.T, handler http.HandlerFunc) *provider.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := provider.DefaultClientConfig(srv.URL)
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	cfg.BreakerFailures = 3
	cfg.BreakerCooldown = time.Minute

	c, err := provider.NewClient(cfg, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	c.Now = func() time.Time { return time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC) }
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// =============================================================================
// AUTH
// =============================================================================

func TestClient_Login(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok", "refresh_token": "ref", "expires_in": 600})
	})

	s, err := c.Login(context.Background(), "me@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok", s.AccessToken)
	assert.Equal(t, "ref", s.RefreshToken)
	assert.Equal(t, time.Date(2026, time.March, 10, 7, 10, 0, 0, time.UTC), s.ExpiresAt)

	_, err = c.Login(context.Background(), "me@example.com", "wrong")
	assert.ErrorIs(t, err, sleep.ErrAuth)
}

func TestClient_LoginWithoutCredentials(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	_, err := c.Login(context.Background(), "", "")
	assert.ErrorIs(t, err, sleep.ErrAuth)
	assert.Zero(t, calls.Load(), "no request without credentials")
}

func TestClient_RefreshRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Refresh(context.Background(), "stale")
	assert.ErrorIs(t, err, sleep.ErrAuthExpired)
}

// =============================================================================
// FETCH
// =============================================================================

func TestClient_FetchSleep(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wellness/sleep", r.URL.Path)
		assert.Equal(t, "2026-03-06", r.URL.Query().Get("startDate"))
		assert.Equal(t, "2026-03-10", r.URL.Query().Get("endDate"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"date":"2026-03-09","sleepSessions":[]},{"dailySleepDTO":{"calendarDate":"2026-03-10"}}]`))
	})

	payloads, err := c.FetchSleep(context.Background(), "tok", sleep.LastNDays(sleep.MustParseDay("2026-03-10"), 5))
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.JSONEq(t, `{"date":"2026-03-09","sleepSessions":[]}`, string(payloads[0]))
}

func TestClient_FetchSleep_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		header  map[string]string
		body    string
		wantErr error
	}{
		{"token rejected", http.StatusUnauthorized, nil, "", sleep.ErrAuthExpired},
		{"throttled", http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, "", sleep.ErrRateLimited},
		{"server error", http.StatusBadGateway, nil, "", sleep.ErrProviderUnavailable},
		{"not an array", http.StatusOK, nil, `{"data":[]}`, sleep.ErrProviderUnavailable},
		{"malformed body", http.StatusOK, nil, `[{`, sleep.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.FetchSleep(context.Background(), "tok", sleep.LastNDays(sleep.MustParseDay("2026-03-10"), 1))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_RateLimitCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchSleep(context.Background(), "tok", sleep.LastNDays(sleep.MustParseDay("2026-03-10"), 1))
	var rlErr *provider.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, 7*time.Second, rlErr.RetryAfter)
}

func TestClient_BreakerOpensOnRepeatedUnavailability(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()
	r := sleep.LastNDays(sleep.MustParseDay("2026-03-10"), 1)

	for i := 0; i < 3; i++ {
		_, err := c.FetchSleep(ctx, "tok", r)
		require.ErrorIs(t, err, sleep.ErrProviderUnavailable)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.FetchSleep(ctx, "tok", r)
	assert.ErrorIs(t, err, sleep.ErrProviderUnavailable)
	assert.Equal(t, int32(3), calls.Load(), "open circuit short-circuits the request")
}

func TestClient_AuthFailuresDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	r := sleep.LastNDays(sleep.MustParseDay("2026-03-10"), 1)

	for i := 0; i < 5; i++ {
		_, err := c.FetchSleep(context.Background(), "tok", r)
		require.ErrorIs(t, err, sleep.ErrAuthExpired)
	}
	assert.Equal(t, "closed", c.BreakerState())
}

func TestNewClient_RejectsBadBaseURL(t *testing.T) {
	_, err := provider.NewClient(provider.DefaultClientConfig("not a url"), nil, zerolog.Nop())
	assert.Error(t, err)
}
