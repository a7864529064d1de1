package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rxoptima/rxoptima/internal/audit"
	"github.com/rxoptima/rxoptima/internal/auth"
	"github.com/rxoptima/rxoptima/internal/dashboard"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/live"
	"github.com/rxoptima/rxoptima/internal/observability"
	"github.com/rxoptima/rxoptima/internal/platform/httpx"
	"github.com/rxoptima/rxoptima/internal/prescriptions"
	"github.com/rxoptima/rxoptima/internal/sales"
	"github.com/rxoptima/rxoptima/internal/shared"
	"github.com/rxoptima/rxoptima/jobs"
	"github.com/rxoptima/rxoptima/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Sessions auth.Sessions
	Notices  *shared.NoticeBoard
	Metrics  *observability.Metrics

	AuthHandler          *auth.Handler
	InventoryHandler     *inventory.Handler
	SalesHandler         *sales.Handler
	PrescriptionsHandler *prescriptions.Handler
	DashboardHandler     *dashboard.Handler
	StreamHandler        *live.Handler
	AuditHandler         *audit.Handler
	ReceiptHandler       *report.Handler
	JobHandler           *jobs.Handler
}

// NewRouter constructs the chi.Router with RxOptima defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestTimeout(params.Config))
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.Notices != nil {
			r.Get("/notices", noticesHandler(params.Notices))
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	r.Group(func(r chi.Router) {
		if params.Sessions != nil {
			r.Use(auth.RequireIdentity(params.Sessions))
		}
		// Streams stay open for the life of the client.
		if params.StreamHandler != nil {
			params.StreamHandler.MountRoutes(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(RequestTimeout(params.Config))
			if params.InventoryHandler != nil {
				r.Route("/inventory", params.InventoryHandler.MountRoutes)
			}
			if params.SalesHandler != nil {
				params.SalesHandler.MountRoutes(r)
			}
			if params.PrescriptionsHandler != nil {
				params.PrescriptionsHandler.MountRoutes(r)
			}
			if params.DashboardHandler != nil {
				params.DashboardHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.ReceiptHandler != nil {
				params.ReceiptHandler.MountRoutes(r)
			}
		})
	})

	return r
}

func noticesHandler(board *shared.NoticeBoard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]any{"notices": board.Drain()})
	}
}
