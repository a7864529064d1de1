package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/rxoptima/rxoptima/internal/platform/cache"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// PasswordConfig tunes the password provider.
type PasswordConfig struct {
	Station     string
	TTL         time.Duration
	MaxAttempts int
	Lockout     time.Duration
}

// PasswordProvider verifies bcrypt credentials, limits failed attempts in
// Redis and persists the signed-in identity per station.
type PasswordProvider struct {
	accounts AccountRepository
	client   *redis.Client
	cfg      PasswordConfig
	logger   *slog.Logger

	mu        sync.Mutex
	current   *Identity
	listeners map[uint64]func(*Identity)
	nextID    uint64
	notifyMu  sync.Mutex
}

var _ Provider = (*PasswordProvider)(nil)

// NewPasswordProvider constructs a provider.
func NewPasswordProvider(accounts AccountRepository, client *redis.Client, cfg PasswordConfig, logger *slog.Logger) *PasswordProvider {
	if cfg.Station == "" {
		cfg.Station = "default"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordProvider{
		accounts:  accounts,
		client:    client,
		cfg:       cfg,
		logger:    logger,
		listeners: make(map[uint64]func(*Identity)),
	}
}

// Restore loads the identity persisted for this station, if any, and
// notifies listeners.
func (p *PasswordProvider) Restore(ctx context.Context) error {
	payload, err := p.client.Get(ctx, p.identityKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("identity: restore: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(payload, &id); err != nil {
		return fmt.Errorf("identity: decode persisted identity: %w", err)
	}
	p.setCurrent(&id)
	return nil
}

// SignInWithPassword implements Provider.
func (p *PasswordProvider) SignInWithPassword(ctx context.Context, email, password string) (Identity, error) {
	email = normaliseEmail(email)
	attemptsKey := cache.Key("login_attempts", email)

	attempts, err := p.client.Get(ctx, attemptsKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Identity{}, &shared.AuthError{Reason: shared.AuthFailed, Err: err}
	}
	if attempts >= p.cfg.MaxAttempts {
		return Identity{}, &shared.AuthError{Reason: shared.AuthTooManyAttempts}
	}

	acc, err := p.accounts.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Identity{}, &shared.AuthError{Reason: shared.AuthFailed, Err: err}
	}
	if acc == nil || !acc.IsActive || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		p.recordFailure(ctx, attemptsKey)
		return Identity{}, &shared.AuthError{Reason: shared.AuthInvalidCredentials}
	}

	id := Identity{ID: acc.ID, Email: acc.Email}
	payload, err := json.Marshal(id)
	if err != nil {
		return Identity{}, &shared.AuthError{Reason: shared.AuthFailed, Err: err}
	}
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, attemptsKey)
	pipe.Set(ctx, p.identityKey(), payload, p.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return Identity{}, &shared.AuthError{Reason: shared.AuthFailed, Err: err}
	}

	p.setCurrent(&id)
	return id, nil
}

// SignOut implements Provider. Listeners are notified even if the persisted
// identity could not be removed.
func (p *PasswordProvider) SignOut(ctx context.Context) error {
	err := p.client.Del(ctx, p.identityKey()).Err()
	p.setCurrent(nil)
	if err != nil {
		return fmt.Errorf("identity: sign out: %w", err)
	}
	return nil
}

// OnIdentityChange implements Provider.
func (p *PasswordProvider) OnIdentityChange(fn func(*Identity)) func() {
	p.notifyMu.Lock()
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	current := cloneIdentity(p.current)
	p.mu.Unlock()
	fn(current)
	p.notifyMu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Current returns the signed-in identity, if any.
func (p *PasswordProvider) Current() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneIdentity(p.current)
}

func (p *PasswordProvider) recordFailure(ctx context.Context, key string) {
	pipe := p.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, p.cfg.Lockout)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("identity: record failed attempt", slog.Any("error", err))
	}
}

func (p *PasswordProvider) setCurrent(id *Identity) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.current = cloneIdentity(id)
	listeners := make([]func(*Identity), 0, len(p.listeners))
	ids := make([]uint64, 0, len(p.listeners))
	for lid := range p.listeners {
		ids = append(ids, lid)
	}
	slices.Sort(ids)
	for _, lid := range ids {
		listeners = append(listeners, p.listeners[lid])
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(cloneIdentity(id))
	}
}

func (p *PasswordProvider) identityKey() string {
	return cache.Key("identity", p.cfg.Station)
}

func cloneIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
