// File: internal/client/csrf.go
package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshTimeout bounds one shared token fetch.
const refreshTimeout = 30 * time.Second

// FetchFunc obtains a fresh token from the server.
type FetchFunc func(ctx context.Context) (Token, error)

// TokenManager caches the CSRF token and coalesces refreshes: concurrent
// callers that saw the same rejected token share one fetch.
type TokenManager struct {
	fetch   FetchFunc
	store   TokenStore
	logger  Logger
	now     func() time.Time
	timeout time.Duration

	group    singleflight.Group
	loadOnce sync.Once

	mu      sync.RWMutex
	current Token
}

func NewTokenManager(fetch FetchFunc, store TokenStore, logger Logger) *TokenManager {
	if store == nil {
		store = &MemoryTokenStore{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &TokenManager{fetch: fetch, store: store, logger: logger, now: time.Now, timeout: refreshTimeout}
}

// Token returns a usable token, fetching one when none is cached.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.loadOnce.Do(m.loadStored)

	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()
	if current.Valid(m.now()) {
		return current.Value, nil
	}
	return m.Refresh(ctx, current.Value)
}

func (m *TokenManager) loadStored() {
	stored, err := m.store.Load()
	if err != nil {
		if err != errNoToken {
			m.logger.Debug("token store unavailable, using memory only", "error", err)
		}
		return
	}
	if !stored.Valid(m.now()) {
		return
	}
	m.mu.Lock()
	if m.current.Value == "" {
		m.current = stored
	}
	m.mu.Unlock()
}

// Refresh replaces rejected with a new token. When the cached token already
// differs from rejected, another caller refreshed it and it is reused.
func (m *TokenManager) Refresh(ctx context.Context, rejected string) (string, error) {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()
	if current.Value != "" && current.Value != rejected && current.Valid(m.now()) {
		return current.Value, nil
	}

	ch := m.group.DoChan("csrf", func() (interface{}, error) {
		// A flight that finished just before this one started may already
		// have replaced the rejected token.
		m.mu.RLock()
		latest := m.current
		m.mu.RUnlock()
		if latest.Value != "" && latest.Value != rejected && latest.Valid(m.now()) {
			return latest.Value, nil
		}

		// The fetch is shared, so no single caller's cancellation may end it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		tok, err := m.fetch(fetchCtx)
		if err != nil {
			return "", err
		}
		m.set(tok)
		m.logger.Debug("csrf token refreshed", "expires_at", tok.ExpiresAt)
		return tok.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			m.logger.Debug("csrf refresh shared with concurrent callers")
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.current = Token{}
	m.mu.Unlock()
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("failed to clear token store", "error", err)
	}
}

func (m *TokenManager) set(tok Token) {
	m.mu.Lock()
	m.current = tok
	m.mu.Unlock()
	if err := m.store.Save(tok); err != nil {
		m.logger.Warn("failed to persist csrf token, keeping it in memory", "error", err)
	}
}
