// Package session tracks the station's authenticated identity and tells
// dependents when it becomes known or changes.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/identity"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// State is the session as observed by dependents. Identity is nil when
// signed out; Ready is false until the provider's first report.
type State struct {
	Ready    bool
	Identity *identity.Identity
}

// Manager wraps an identity provider. Before the provider's first report no
// operation may touch scoped data.
type Manager struct {
	provider  identity.Provider
	namespace string
	logger    *slog.Logger

	applyMu sync.Mutex
	mu      sync.Mutex
	state   State
	readyCh chan struct{}
	unsub   func()
	feed    *docstore.Feed[State]
}

// NewManager constructs a Manager scoped to namespace.
func NewManager(provider identity.Provider, namespace string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider:  provider,
		namespace: namespace,
		logger:    logger,
		readyCh:   make(chan struct{}),
		feed:      docstore.NewFeed(State{}),
	}
}

// Start subscribes to the provider. Calling it again has no effect.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.unsub != nil {
		m.mu.Unlock()
		return
	}
	m.unsub = func() {}
	m.mu.Unlock()

	unsub := m.provider.OnIdentityChange(m.apply)

	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()
}

// Close stops listening to the provider.
func (m *Manager) Close() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (m *Manager) apply(id *identity.Identity) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	prev := m.state
	next := State{Ready: true, Identity: id}
	m.state = next
	if !prev.Ready {
		close(m.readyCh)
	}
	m.mu.Unlock()

	if prev.Ready && sameIdentity(prev.Identity, id) {
		return
	}
	if id != nil {
		m.logger.Info("session: identity active", slog.String("identity", id.ID))
	} else {
		m.logger.Info("session: signed out")
	}
	m.feed.Publish(next)
}

// Ready reports whether the provider has reported at least once.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Ready
}

// WaitReady blocks until the session is ready or ctx ends.
func (m *Manager) WaitReady(ctx context.Context) error {
	m.mu.Lock()
	ch := m.readyCh
	m.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the active identity.
func (m *Manager) Current() (identity.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Ready || m.state.Identity == nil {
		return identity.Identity{}, false
	}
	return *m.state.Identity, true
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange delivers the current state immediately and every later change.
func (m *Manager) OnChange(fn func(State)) (cancel func()) {
	return m.feed.Subscribe(fn)
}

// RequireIdentity returns the active identity or an AuthError.
func (m *Manager) RequireIdentity() (identity.Identity, error) {
	id, ok := m.Current()
	if !ok {
		return identity.Identity{}, shared.NoSession()
	}
	return id, nil
}

// Scope returns the document scope of the active identity.
func (m *Manager) Scope() (docstore.Scope, error) {
	id, err := m.RequireIdentity()
	if err != nil {
		return docstore.Scope{}, err
	}
	return docstore.Scope{Namespace: m.namespace, Identity: id.ID}, nil
}

// Namespace returns the application namespace.
func (m *Manager) Namespace() string { return m.namespace }

// SignIn authenticates with the provider.
func (m *Manager) SignIn(ctx context.Context, email, password string) (identity.Identity, error) {
	id, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		var authErr *shared.AuthError
		if !errors.As(err, &authErr) {
			err = &shared.AuthError{Reason: shared.AuthFailed, Err: err}
		}
		m.logger.Warn("session: sign in failed", slog.String("email", email), slog.Any("error", err))
		return identity.Identity{}, err
	}
	return id, nil
}

// SignOut signs out with the provider and always clears the local identity.
func (m *Manager) SignOut(ctx context.Context) {
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("session: provider sign out failed", slog.Any("error", err))
	}
	m.apply(nil)
}

func sameIdentity(a, b *identity.Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
