// Package auth owns access-token lifecycles: a serialized token manager with
// a single refresh-and-retry contract for provider calls, and the periodic
// Twitch validation loop that gates the refund capability.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNoToken means no credential has been stored yet (OAuth flow not done).
var ErrNoToken = errors.New("no token available; complete the authorization flow first")

// Store persists token state across restarts (the oauth_tokens table).
type Store interface {
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
}

// RefreshFunc performs the provider-specific refresh grant and returns the
// new access token, the new refresh token ("" keeps the old one), and expiry.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, expiry time.Time, err error)

// Manager holds the single token state for one provider. Reads are cheap and
// concurrent; refreshes are serialized, and a refresh that lost the race to a
// concurrent one reuses its result instead of burning the refresh token again.
type Manager struct {
	provider string
	store    Store
	refresh  RefreshFunc
	isAuth   func(error) bool // classifies provider call errors for WithRetry

	mu        sync.RWMutex
	access    string
	refreshTk string

	refreshMu sync.Mutex
}

// NewManager builds a manager for one provider. isAuthErr classifies errors
// from provider calls as recoverable-by-refresh; it is only consulted by
// WithRetry.
func NewManager(provider string, store Store, refresh RefreshFunc, isAuthErr func(error) bool) *Manager {
	return &Manager{provider: provider, store: store, refresh: refresh, isAuth: isAuthErr}
}

// Load primes the in-memory state from the store. Missing rows are fine; the
// manager just reports ErrNoToken until SetTokens is called.
func (m *Manager) Load(ctx context.Context) error {
	access, refresh, _, _, err := m.store.GetOAuthToken(ctx, m.provider)
	if err != nil {
		return fmt.Errorf("load %s token: %w", m.provider, err)
	}
	m.mu.Lock()
	m.access = access
	m.refreshTk = refresh
	m.mu.Unlock()
	return nil
}

// Current returns the access token in use.
func (m *Manager) Current(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.access == "" {
		return "", ErrNoToken
	}
	return m.access, nil
}

// Token implements twitchapi.TokenSource.
func (m *Manager) Token(ctx context.Context) (string, error) { return m.Current(ctx) }

// SetTokens replaces both tokens (OAuth callback path) and persists them.
func (m *Manager) SetTokens(ctx context.Context, access, refresh string, expiry time.Time, scope string) error {
	m.mu.Lock()
	m.access = access
	if refresh != "" {
		m.refreshTk = refresh
	}
	m.mu.Unlock()
	if err := m.store.UpsertOAuthToken(ctx, m.provider, access, m.refreshToken(), expiry, scope); err != nil {
		return fmt.Errorf("persist %s token: %w", m.provider, err)
	}
	return nil
}

func (m *Manager) refreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshTk
}

// Refresh exchanges the stored refresh token for a new access token. On
// failure the prior state is left untouched. Concurrent refreshes collapse:
// if another caller already rotated the token since `stale` was read, the
// exchange is skipped.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	stale := m.access
	m.mu.RUnlock()
	return m.refreshFrom(ctx, stale)
}

func (m *Manager) refreshFrom(ctx context.Context, stale string) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	cur, rt := m.access, m.refreshTk
	m.mu.RUnlock()
	if cur != stale {
		// Someone else refreshed while we waited on the lock.
		return nil
	}
	if rt == "" {
		return ErrNoToken
	}

	access, refresh, expiry, err := m.refresh(ctx, rt)
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", m.provider), slog.Any("err", err))
		return fmt.Errorf("refresh %s token: %w", m.provider, err)
	}
	if refresh == "" {
		refresh = rt
	}

	m.mu.Lock()
	m.access = access
	m.refreshTk = refresh
	m.mu.Unlock()

	if err := m.store.UpsertOAuthToken(ctx, m.provider, access, refresh, expiry, ""); err != nil {
		// The new token is live in memory; persistence failure is operator-only.
		slog.Warn("token persist failed", slog.String("provider", m.provider), slog.Any("err", err))
	} else {
		slog.Info("token refreshed", slog.String("provider", m.provider))
	}
	return nil
}

// WithRetry runs call with the current credential. On an authorization
// failure it refreshes exactly once and retries exactly once, surfacing the
// second failure unmodified. Any other error passes straight through.
func (m *Manager) WithRetry(ctx context.Context, call func(token string) error) error {
	tok, err := m.Current(ctx)
	if err != nil {
		return err
	}
	err = call(tok)
	if err == nil || m.isAuth == nil || !m.isAuth(err) {
		return err
	}
	if rerr := m.refreshFrom(ctx, tok); rerr != nil {
		return err
	}
	tok, terr := m.Current(ctx)
	if terr != nil {
		return terr
	}
	return call(tok)
}
