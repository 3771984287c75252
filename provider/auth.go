package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/sleep-debt/sleep"
)

// =============================================================================
// AUTHENTICATOR - Session reuse with a single re-authentication
// =============================================================================

// AuthClient is the part of Client the Authenticator needs.
type AuthClient interface {
	Login(ctx context.Context, email, password string) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// Credentials are the provider account credentials.
type Credentials struct {
	Email    string
	Password string
}

// Authenticator hands out a usable session.
//
//	stored session valid          -> reuse it, no network
//	stored session expired        -> exactly one re-authentication
//	nothing stored                -> login with credentials
//
// Re-authentication is a refresh when a refresh token exists and a fresh
// login otherwise. If that one attempt fails the result is ErrAuthExpired;
// bad credentials stay ErrAuth. A retryable transport fault is returned as
// is and keeps the stored session, so a caller's retry repeats the same
// re-authentication instead of starting a second one.
type Authenticator struct {
	client   AuthClient
	sessions SessionStore
	creds    Credentials
	logger   zerolog.Logger

	Now func() time.Time
}

func NewAuthenticator(client AuthClient, sessions SessionStore, creds Credentials, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		client:   client,
		sessions: sessions,
		creds:    creds,
		logger:   logger.With().Str("component", "auth").Logger(),
		Now:      time.Now,
	}
}

// Session returns a session usable right now.
func (a *Authenticator) Session(ctx context.Context) (Session, error) {
	stored, err := a.sessions.Load(ctx)
	if err != nil {
		// An unreadable store only costs a login.
		a.logger.Warn().Err(err).Msg("session store unavailable, logging in")
		stored = nil
	}

	if stored == nil {
		return a.login(ctx)
	}
	if stored.Valid(a.Now()) {
		return *stored, nil
	}
	return a.Reauthenticate(ctx, *stored)
}

// Reauthenticate replaces a stale session with exactly one attempt.
// It is also called when the provider rejects a locally valid token.
func (a *Authenticator) Reauthenticate(ctx context.Context, stale Session) (Session, error) {
	a.logger.Info().Bool("refreshable", stale.Refreshable()).Msg("re-authenticating")

	var (
		fresh Session
		err   error
	)
	if stale.Refreshable() {
		fresh, err = a.client.Refresh(ctx, stale.RefreshToken)
	} else {
		fresh, err = a.client.Login(ctx, a.creds.Email, a.creds.Password)
	}
	if err != nil {
		// Transient faults keep the stored session for the next attempt.
		if sleep.IsRetryable(err) || ctx.Err() != nil {
			return Session{}, err
		}
		a.clear(ctx)
		if errors.Is(err, sleep.ErrAuth) || errors.Is(err, sleep.ErrAuthExpired) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: %v", sleep.ErrAuthExpired, err)
	}

	a.save(ctx, fresh)
	return fresh, nil
}

// Forget drops the stored session.
func (a *Authenticator) Forget(ctx context.Context) error {
	return a.sessions.Clear(ctx)
}

func (a *Authenticator) login(ctx context.Context) (Session, error) {
	s, err := a.client.Login(ctx, a.creds.Email, a.creds.Password)
	if err != nil {
		return Session{}, err
	}
	a.save(ctx, s)
	return s, nil
}

func (a *Authenticator) save(ctx context.Context, s Session) {
	if err := a.sessions.Save(ctx, s); err != nil {
		a.logger.Warn().Err(err).Msg("failed to persist session")
	}
}

func (a *Authenticator) clear(ctx context.Context) {
	if err := a.sessions.Clear(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("failed to clear session")
	}
}
