/*
Package provider talks to the wearable-data provider.

PURPOSE:
  HTTP client, session handling and payload normalization for the
  provider's sleep API. Everything the orchestrator needs to turn a date
  range into per-day hours lives here; nothing here touches the ledger.

WIRE CONTRACT:
  POST /auth/login     {email, password}  -> {access_token, refresh_token, expires_in}
  POST /auth/refresh   {refresh_token}    -> same envelope
  GET  /wellness/sleep?startDate=&endDate= (Bearer) -> JSON array of per-day payloads

STATUS MAPPING:
  login   401/403       -> sleep.ErrAuth (bad credentials, never retried)
  refresh 400/401/403   -> sleep.ErrAuthExpired
  fetch   401           -> sleep.ErrAuthExpired (caller re-authenticates once)
  any     429           -> *RateLimitError (Retry-After honored by caller)
  any     5xx, network  -> sleep.ErrProviderUnavailable
  any     circuit open  -> sleep.ErrProviderUnavailable

PACING:
  Every request waits on a token-bucket limiter, then runs inside a
  circuit breaker. Only ErrProviderUnavailable counts as a breaker failure:
  auth and rate-limit answers prove the provider is up.

SEE ALSO:
  - auth.go: Session reuse and the single re-authentication rule
  - normalize.go: Payload shapes
  - ingest/orchestrator.go: Retry and fallback policy
*/
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"github.com/warp/sleep-debt/sleep"
	"golang.org/x/time/rate"
)

const (
	maxBodyBytes          = 8 << 20
	defaultSessionSeconds = 3600
)

// ClientConfig configures the provider HTTP client.
type ClientConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration

	// Breaker trips after this many consecutive unavailable answers and
	// stays open for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultClientConfig returns conservative settings for baseURL.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		RequestsPerSecond: 2,
		Burst:             1,
		Timeout:           15 * time.Second,
		BreakerFailures:   5,
		BreakerCooldown:   60 * time.Second,
	}
}

// Client is the provider HTTP client.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger

	// Now anchors session expiry. Defaults to time.Now.
	Now func() time.Time
}

// NewClient builds a client. httpClient may be nil.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base URL %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	logger = logger.With().Str("component", "provider").Logger()
	st := gobreaker.Settings{
		Name:    "provider",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, sleep.ErrProviderUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
		Now:     time.Now,
	}, nil
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, fmt.Errorf("%w: credentials not configured", sleep.ErrAuth)
	}
	body, err := c.postJSON(ctx, "/auth/login", map[string]string{"email": email, "password": password}, opLogin)
	if err != nil {
		return Session{}, err
	}
	return c.parseSession(body)
}

// Refresh renews a session with its refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, fmt.Errorf("%w: no refresh token", sleep.ErrAuthExpired)
	}
	body, err := c.postJSON(ctx, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, opRefresh)
	if err != nil {
		return Session{}, err
	}
	return c.parseSession(body)
}

func (c *Client) parseSession(body []byte) (Session, error) {
	if !gjson.ValidBytes(body) {
		return Session{}, unavailable("malformed auth response")
	}
	res := gjson.ParseBytes(body)
	token := res.Get("access_token").String()
	if token == "" {
		return Session{}, unavailable("auth response without access_token")
	}
	expiresIn := res.Get("expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = defaultSessionSeconds
	}
	return Session{
		AccessToken:  token,
		RefreshToken: res.Get("refresh_token").String(),
		ExpiresAt:    c.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// =============================================================================
// SLEEP ENDPOINT
// =============================================================================

// FetchSleep returns the raw per-day payloads for r in one round trip.
func (c *Client) FetchSleep(ctx context.Context, accessToken string, r sleep.Range) ([]json.RawMessage, error) {
	u := c.endpoint("/wellness/sleep")
	q := u.Query()
	q.Set("startDate", r.Start.String())
	q.Set("endDate", r.End.String())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req, opFetch)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, unavailable("malformed sleep response")
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return nil, unavailable("sleep response is not an array")
	}

	var payloads []json.RawMessage
	res.ForEach(func(_, item gjson.Result) bool {
		payloads = append(payloads, json.RawMessage(item.Raw))
		return true
	})

	c.logger.Debug().Str("range", r.String()).Int("payloads", len(payloads)).Msg("fetched sleep payloads")
	return payloads, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

type operation string

const (
	opLogin   operation = "login"
	opRefresh operation = "refresh"
	opFetch   operation = "fetch"
)

func (c *Client) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return &u
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, op operation) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path).String(), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(ctx, req, op)
}

func (c *Client) do(ctx context.Context, req *http.Request, op operation) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, unavailable("%s: %v", op, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, unavailable("%s: read body: %v", op, err)
		}
		if err := c.checkStatus(resp, op); err != nil {
			return nil, err
		}
		return body, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, unavailable("%s: circuit %v", op, err)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("op", string(op)).Msg("provider request failed")
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Client) checkStatus(resp *http.Response, op operation) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.Now())}
	case code >= 500:
		return unavailable("%s: HTTP %d", op, code)
	}

	switch op {
	case opLogin:
		if code == http.StatusUnauthorized || code == http.StatusForbidden {
			return fmt.Errorf("%w: HTTP %d", sleep.ErrAuth, code)
		}
	case opRefresh:
		if code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden {
			return fmt.Errorf("%w: refresh rejected (HTTP %d)", sleep.ErrAuthExpired, code)
		}
	case opFetch:
		if code == http.StatusUnauthorized {
			return fmt.Errorf("%w: token rejected", sleep.ErrAuthExpired)
		}
	}
	return unavailable("%s: unexpected HTTP %d", op, code)
}
