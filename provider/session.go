package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
)

// expirySkew treats a token as expired slightly early so it does not lapse
// between the check and the request.
const expirySkew = 30 * time.Second

// Session is an authenticated provider session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the access token can still be used at now.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && now.Before(s.ExpiresAt.Add(-expirySkew))
}

// Refreshable reports whether the session can be renewed without credentials.
func (s Session) Refreshable() bool {
	return s.RefreshToken != ""
}

// SessionStore persists the provider session between runs.
// Load returns nil, nil when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// =============================================================================
// KEYRING SESSION STORE
// =============================================================================

// ErrKeyringUnavailable is returned when the OS keyring cannot be used.
var ErrKeyringUnavailable = errors.New("OS keyring is not available")

// KeyringSessionStore keeps the session as JSON in the OS keyring.
type KeyringSessionStore struct {
	Service string
	User    string
}

func NewKeyringSessionStore(service, user string) *KeyringSessionStore {
	return &KeyringSessionStore{Service: service, User: user}
}

func (k *KeyringSessionStore) Load(_ context.Context) (*Session, error) {
	raw, err := keyring.Get(k.Service, k.User)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		// A corrupt entry is as good as none; the next login overwrites it.
		return nil, nil
	}
	return &s, nil
}

func (k *KeyringSessionStore) Save(_ context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.Service, k.User, string(raw)); err != nil {
		return fmt.Errorf("failed to store session in keyring: %w", err)
	}
	return nil
}

func (k *KeyringSessionStore) Clear(_ context.Context) error {
	err := keyring.Delete(k.Service, k.User)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete session from keyring: %w", err)
	}
	return nil
}

// KeyringAvailable checks whether the OS keyring answers at all.
func KeyringAvailable(service string) bool {
	_, err := keyring.Get(service, "availability-check")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// =============================================================================
// MEMORY SESSION STORE - For tests and keyring-less hosts
// =============================================================================

type MemorySessionStore struct {
	mu      sync.Mutex
	session *Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) Load(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemorySessionStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *MemorySessionStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
