package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/rxoptima/rxoptima/internal/identity"
	"github.com/rxoptima/rxoptima/internal/platform/httpx"
	"github.com/rxoptima/rxoptima/internal/session"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// Sessions is the session surface the handler drives.
type Sessions interface {
	SignIn(ctx context.Context, email, password string) (identity.Identity, error)
	SignOut(ctx context.Context)
	State() session.State
	RequireIdentity() (identity.Identity, error)
}

// Options tunes the per-IP login limiter.
type Options struct {
	LoginRequests int
	LoginWindow   time.Duration
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	sessions  Sessions
	validator *validator.Validate
	opts      Options
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, sessions Sessions, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LoginRequests <= 0 {
		opts.LoginRequests = 10
	}
	if opts.LoginWindow <= 0 {
		opts.LoginWindow = time.Minute
	}
	return &Handler{
		logger:    logger,
		sessions:  sessions,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		opts:      opts,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(h.opts.LoginRequests, h.opts.LoginWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.RespondError(w, &shared.AuthError{Reason: shared.AuthTooManyAttempts})
		}),
	)
	r.With(limiter).Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/auth/session", h.handleSession)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionView struct {
	Ready    bool               `json:"ready"`
	Identity *identity.Identity `json:"identity"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		field := ""
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			field = fieldErrs[0].Field()
		}
		httpx.RespondError(w, &shared.ValidationError{Field: field, Message: "Email and password are required."})
		return
	}
	id, err := h.sessions.SignIn(r.Context(), form.Email, form.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("operator signed in", slog.String("identity", id.ID))
	httpx.JSON(w, http.StatusOK, sessionView{Ready: true, Identity: &id})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	st := h.sessions.State()
	httpx.JSON(w, http.StatusOK, sessionView{Ready: st.Ready, Identity: st.Identity})
}

// RequireIdentity rejects requests while no operator is signed in and
// stores the identity id in the request context otherwise.
func RequireIdentity(sessions Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := sessions.RequireIdentity()
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), id.ID)))
		})
	}
}
