package app

import (
	"log/slog"
	"net/http"

	"github.com/rxoptima/rxoptima/internal/audit"
	"github.com/rxoptima/rxoptima/internal/auth"
	"github.com/rxoptima/rxoptima/internal/dashboard"
	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/identity"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/live"
	"github.com/rxoptima/rxoptima/internal/observability"
	"github.com/rxoptima/rxoptima/internal/prescriptions"
	"github.com/rxoptima/rxoptima/internal/sales"
	"github.com/rxoptima/rxoptima/internal/session"
	"github.com/rxoptima/rxoptima/internal/shared"
	"github.com/rxoptima/rxoptima/jobs"
	"github.com/rxoptima/rxoptima/report"
)

// noticeLimit bounds unread operator notices per station.
const noticeLimit = 50

// Deps are the infrastructure pieces a station runs on. Audit, AuditTrail,
// Alerts, Inspector, Renderer and Idempotency are optional.
type Deps struct {
	Config     *Config
	Logger     *slog.Logger
	Store      docstore.Store
	Provider   identity.Provider
	Audit      shared.AuditRecorder
	AuditTrail audit.Repository
	Alerts     inventory.StockAlerter
	Inspector  jobs.QueueInspector
	Renderer   report.Renderer
	Metrics    *observability.Metrics

	// Idempotency guards checkout against double submission.
	Idempotency *shared.IdempotencyStore
}

// Station is one running point-of-sale station: its session, live
// snapshots, cart and HTTP surface.
type Station struct {
	Router     http.Handler
	Sessions   *session.Manager
	Subscriber *live.Subscriber
	Notices    *shared.NoticeBoard
	Cart       *sales.Cart

	unbind func()
}

// Build wires the domain services over deps and starts following the
// identity provider.
func Build(deps Deps) *Station {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	formatter := cfg.Formatter()
	notices := shared.NewNoticeBoard(noticeLimit)

	sessions := session.NewManager(deps.Provider, cfg.AppNamespace, logger)
	subscriber := live.NewSubscriber(deps.Store, cfg.AppNamespace, notices, deps.Metrics, logger)
	unbind := subscriber.Bind(sessions)
	sessions.Start()

	inventoryService := inventory.NewService(deps.Store, sessions, notices, logger)

	salesPorts := sales.Ports{Audit: deps.Audit, Alerts: deps.Alerts, Metrics: deps.Metrics, Notices: notices, Logger: logger}
	prescriptionPorts := prescriptions.Ports{Audit: deps.Audit, Alerts: deps.Alerts, Metrics: deps.Metrics, Notices: notices, Logger: logger}

	cart := sales.NewCart(subscriber, notices)
	saleEngine := sales.NewEngine(deps.Store, sessions, salesPorts, sales.EngineConfig{
		StrictStock:       cfg.StrictStock,
		LowStockThreshold: cfg.LowStockThreshold,
	})
	prescriptionEngine := prescriptions.NewEngine(deps.Store, sessions, subscriber, prescriptionPorts, prescriptions.EngineConfig{
		StrictStock:       cfg.StrictStock,
		LowStockThreshold: cfg.LowStockThreshold,
	})
	dashboardService := dashboard.NewService(subscriber, dashboard.Options{
		LowStockThreshold: cfg.LowStockThreshold,
		ExpiryWindow:      cfg.ExpiryWindow(),
	}, formatter)

	pharmacy := sales.Pharmacy{
		Name:    cfg.PharmacyName,
		Address: cfg.PharmacyAddress,
		Phone:   cfg.PharmacyPhone,
	}

	var auditHandler *audit.Handler
	if deps.AuditTrail != nil {
		auditHandler = audit.NewHandler(logger, audit.NewService(deps.AuditTrail))
	}

	router := NewRouter(RouterParams{
		Logger:   logger,
		Config:   cfg,
		Sessions: sessions,
		Notices:  notices,
		Metrics:  deps.Metrics,
		AuthHandler: auth.NewHandler(logger, sessions, auth.Options{
			LoginRequests: cfg.LoginRateLimit,
		}),
		InventoryHandler:     inventory.NewHandler(logger, inventoryService, subscriber, formatter),
		SalesHandler:         sales.NewHandler(logger, cart, saleEngine, subscriber, formatter, pharmacy).WithIdempotency(deps.Idempotency),
		PrescriptionsHandler: prescriptions.NewHandler(logger, prescriptionEngine, subscriber),
		DashboardHandler:     dashboard.NewHandler(logger, dashboardService),
		StreamHandler:        live.NewHandler(logger, subscriber, formatter),
		AuditHandler:         auditHandler,
		ReceiptHandler:       report.NewHandler(logger, deps.Renderer, subscriber, pharmacy, formatter),
		JobHandler:           jobs.NewHandler(deps.Inspector, logger),
	})

	return &Station{
		Router:     router,
		Sessions:   sessions,
		Subscriber: subscriber,
		Notices:    notices,
		Cart:       cart,
		unbind:     unbind,
	}
}

// Close stops following the session and drops the live subscriptions.
func (s *Station) Close() {
	s.unbind()
	s.Sessions.Close()
	s.Subscriber.Detach()
}
