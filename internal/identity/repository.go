package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/rxoptima/rxoptima/internal/shared"
)

// ErrDuplicateAccount is returned when the email is already registered.
var ErrDuplicateAccount = errors.New("identity: account already exists")

// AccountRepository defines persistence operations for operator accounts.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, email, passwordHash string) (*Account, error)
}

const accountSchema = `CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PGAccountRepository implements AccountRepository using PostgreSQL.
type PGAccountRepository struct {
	pool *pgxpool.Pool
}

// NewPGAccountRepository constructs a PostgreSQL repository.
func NewPGAccountRepository(pool *pgxpool.Pool) *PGAccountRepository {
	return &PGAccountRepository{pool: pool}
}

// EnsureSchema creates the accounts table when missing.
func (r *PGAccountRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, accountSchema)
	return err
}

// FindByEmail fetches an account by email.
func (r *PGAccountRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	var acc Account
	err := r.pool.QueryRow(ctx, `SELECT id, email, password_hash, is_active, created_at FROM accounts WHERE email = $1`,
		normaliseEmail(email)).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.IsActive, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// Create inserts a new active account.
func (r *PGAccountRepository) Create(ctx context.Context, email, passwordHash string) (*Account, error) {
	acc := Account{ID: uuid.NewString(), Email: normaliseEmail(email), PasswordHash: passwordHash, IsActive: true}
	err := r.pool.QueryRow(ctx, `INSERT INTO accounts (id, email, password_hash) VALUES ($1, $2, $3) RETURNING created_at`,
		acc.ID, acc.Email, acc.PasswordHash).Scan(&acc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}
	return &acc, nil
}

var _ AccountRepository = (*PGAccountRepository)(nil)

// MemoryAccountRepository keeps accounts in process memory.
type MemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

// NewMemoryAccountRepository returns an empty repository.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[string]*Account)}
}

// FindByEmail implements AccountRepository.
func (r *MemoryAccountRepository) FindByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[normaliseEmail(email)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copyAcc := *acc
	return &copyAcc, nil
}

// Create implements AccountRepository.
func (r *MemoryAccountRepository) Create(_ context.Context, email, passwordHash string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normaliseEmail(email)
	if _, exists := r.accounts[key]; exists {
		return nil, ErrDuplicateAccount
	}
	acc := &Account{ID: uuid.NewString(), Email: key, PasswordHash: passwordHash, IsActive: true, CreatedAt: time.Now().UTC()}
	r.accounts[key] = acc
	copyAcc := *acc
	return &copyAcc, nil
}

var _ AccountRepository = (*MemoryAccountRepository)(nil)

// CreateAccount hashes password and stores a new account.
func CreateAccount(ctx context.Context, repo AccountRepository, email, password string) (*Account, error) {
	if strings.TrimSpace(email) == "" || len(password) < 6 {
		return nil, &shared.ValidationError{Field: "password", Message: "Email and a password of at least 6 characters are required."}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}
	return repo.Create(ctx, email, string(hash))
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
