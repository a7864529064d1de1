// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// ErrBadRequest marks undecodable request bodies.
var ErrBadRequest = errors.New("bad request")

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var authErr *shared.AuthError
	switch {
	case errors.As(err, &authErr):
		if authErr.Reason == shared.AuthTooManyAttempts {
			return http.StatusTooManyRequests
		}
		return http.StatusUnauthorized
	case errors.Is(err, ErrBadRequest), errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInsufficientStock), errors.Is(err, shared.ErrIdempotencyConflict),
		errors.Is(err, docstore.ErrPrecondition), errors.Is(err, docstore.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrCommitFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = shared.UserMessage(err)
	}
	Problem(w, status, http.StatusText(status), detail)
}
