// Package identity authenticates operators and tracks the signed-in identity
// of a station.
package identity

import (
	"context"
	"time"
)

// Identity is the signed-in operator. ID scopes every collection.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Account is a stored operator credential.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

// Provider signs operators in and out and reports identity changes.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context) error
	// OnIdentityChange calls fn with the current identity (nil when signed
	// out) immediately and again after every change.
	OnIdentityChange(fn func(*Identity)) (unsubscribe func())
}
