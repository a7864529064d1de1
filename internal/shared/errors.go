package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrAuth marks operations attempted without a usable identity or rejected sign-ins.
	ErrAuth = errors.New("authentication failed")
	// ErrEmptyCart is returned when a sale is committed with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientStock marks requests exceeding the on-hand quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCommitFailed marks writes rejected by the document store.
	ErrCommitFailed = errors.New("commit failed")
)

// AuthReason classifies authentication failures.
type AuthReason string

const (
	AuthInvalidCredentials AuthReason = "invalid_credentials"
	AuthTooManyAttempts    AuthReason = "too_many_attempts"
	AuthNoSession          AuthReason = "no_session"
	AuthFailed             AuthReason = "failed"
)

// AuthError is returned by sign-in and by any operation requiring an identity.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + string(e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAuth) match every AuthError.
func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// UserMessage returns the operator-facing text for the failure.
func (e *AuthError) UserMessage() string {
	switch e.Reason {
	case AuthInvalidCredentials:
		return "Invalid email or password."
	case AuthTooManyAttempts:
		return "Too many failed attempts. Please try again later."
	case AuthNoSession:
		return "Authentication error. Please refresh."
	default:
		return "Login failed. Please check your credentials."
	}
}

// NoSession builds the error returned when no identity is active.
func NoSession() error {
	return &AuthError{Reason: AuthNoSession}
}

// ValidationError reports a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UserMessage returns the operator-facing text.
func (e *ValidationError) UserMessage() string { return e.Message }

// InsufficientStockError reports a line that cannot be satisfied from inventory.
type InsufficientStockError struct {
	DrugID    string
	DrugName  string
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): required %d, available %d", e.DrugName, e.DrugID, e.Required, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// UserMessage returns the operator-facing text.
func (e *InsufficientStockError) UserMessage() string {
	if e.Available <= 0 && e.Required <= 1 {
		return "Item is out of stock."
	}
	return fmt.Sprintf("Not enough stock for %s. Required: %d, In Stock: %d", e.DrugName, e.Required, e.Available)
}

// NotFoundError reports a missing record of the given kind.
type NotFoundError struct {
	Kind string
	ID   string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UserMessage returns the operator-facing text.
func (e *NotFoundError) UserMessage() string {
	if e.Name != "" {
		return fmt.Sprintf("Item %s (ID: %s) not found in inventory.", e.Name, e.ID)
	}
	return fmt.Sprintf("%s %s not found.", e.Kind, e.ID)
}

// CommitFailure wraps a store rejection of a write.
type CommitFailure struct {
	Op  string
	Err error
}

func (e *CommitFailure) Error() string {
	return fmt.Sprintf("%s: commit failed: %v", e.Op, e.Err)
}

func (e *CommitFailure) Unwrap() error { return e.Err }

func (e *CommitFailure) Is(target error) bool { return target == ErrCommitFailed }

// UserMessage extracts operator-facing text from err when it carries one.
func UserMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
