package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/warp/sleep-debt/provider"
	"github.com/warp/sleep-debt/sleep"
)

// fakeAuthClient counts calls and answers from canned results.
type fakeAuthClient struct {
	logins    int
	refreshes int

	loginSession   provider.Session
	loginErr       error
	refreshSession provider.Session
	refreshErr     error
}

func (f *fakeAuthClient) Login(_ context.Context, _, _ string) (provider.Session, error) {
	f.logins++
	return f.loginSession, f.loginErr
}

func (f *fakeAuthClient) Refresh(_ context.Context, _ string) (provider.Session, error) {
	f.refreshes++
	return f.refreshSession, f.refreshErr
}

var authNow = time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)

func newTestAuthenticator(client provider.AuthClient, store provider.SessionStore) *provider.Authenticator {
	a := provider.NewAuthenticator(client, store, provider.Credentials{Email: "me@example.com", Password: "pw"}, zerolog.Nop())
	a.Now = func() time.Time { return authNow }
	return a
}

func TestAuthenticator_ReusesValidSession(t *testing.T) {
	store := provider.NewMemorySessionStore()
	require.NoError(t, store.Save(context.Background(), provider.Session{AccessToken: "cached", ExpiresAt: authNow.Add(time.Hour)}))
	client := &fakeAuthClient{}

	s, err := newTestAuthenticator(client, store).Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", s.AccessToken)
	assert.Zero(t, client.logins+client.refreshes)
}

func TestAuthenticator_LogsInWhenNothingStored(t *testing.T) {
	store := provider.NewMemorySessionStore()
	client := &fakeAuthClient{loginSession: provider.Session{AccessToken: "fresh", ExpiresAt: authNow.Add(time.Hour)}}

	s, err := newTestAuthenticator(client, store).Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", s.AccessToken)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "fresh", saved.AccessToken)
}

func TestAuthenticator_InvalidCredentialsAreFatal(t *testing.T) {
	client := &fakeAuthClient{loginErr: sleep.ErrAuth}

	_, err := newTestAuthenticator(client, provider.NewMemorySessionStore()).Session(context.Background())
	assert.ErrorIs(t, err, sleep.ErrAuth)
	assert.Equal(t, 1, client.logins)
}

func TestAuthenticator_ExpiredSessionRefreshedOnce(t *testing.T) {
	// GIVEN: an expired but refreshable session
	// WHEN: the single refresh attempt fails
	// THEN: ErrAuthExpired, no login fallback, stored session cleared

	store := provider.NewMemorySessionStore()
	require.NoError(t, store.Save(context.Background(), provider.Session{
		AccessToken: "old", RefreshToken: "ref", ExpiresAt: authNow.Add(-time.Minute),
	}))
	client := &fakeAuthClient{refreshErr: sleep.ErrAuthExpired}

	_, err := newTestAuthenticator(client, store).Session(context.Background())
	assert.ErrorIs(t, err, sleep.ErrAuthExpired)
	assert.Equal(t, 1, client.refreshes)
	assert.Zero(t, client.logins)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestAuthenticator_ExpiredSessionRefreshSucceeds(t *testing.T) {
	store := provider.NewMemorySessionStore()
	require.NoError(t, store.Save(context.Background(), provider.Session{
		AccessToken: "old", RefreshToken: "ref", ExpiresAt: authNow.Add(-time.Minute),
	}))
	client := &fakeAuthClient{refreshSession: provider.Session{AccessToken: "new", RefreshToken: "ref2", ExpiresAt: authNow.Add(time.Hour)}}

	s, err := newTestAuthenticator(client, store).Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", s.AccessToken)
	assert.Equal(t, 1, client.refreshes)
}

func TestAuthenticator_TransientRefreshFailureKeepsSession(t *testing.T) {
	store := provider.NewMemorySessionStore()
	require.NoError(t, store.Save(context.Background(), provider.Session{
		AccessToken: "old", RefreshToken: "ref", ExpiresAt: authNow.Add(-time.Minute),
	}))
	client := &fakeAuthClient{refreshErr: sleep.ErrProviderUnavailable}

	_, err := newTestAuthenticator(client, store).Session(context.Background())
	assert.ErrorIs(t, err, sleep.ErrProviderUnavailable)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, saved)
}

// =============================================================================
// KEYRING SESSION STORE
// =============================================================================

func TestKeyringSessionStore_RoundTrip(t *testing.T) {
	gokeyring.MockInit()
	ctx := context.Background()
	store := provider.NewKeyringSessionStore("sleep-debt-test", "provider")

	s, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	want := provider.Session{AccessToken: "tok", RefreshToken: "ref", ExpiresAt: authNow}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx), "clearing twice is fine")
	s, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	assert.True(t, provider.KeyringAvailable("sleep-debt-test"))
}
