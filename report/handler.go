package report

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rxoptima/rxoptima/internal/format"
	"github.com/rxoptima/rxoptima/internal/platform/httpx"
	"github.com/rxoptima/rxoptima/internal/sales"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// Renderer turns an HTML document into a PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// SalesSnapshot exposes the committed sales of the active identity.
type SalesSnapshot interface {
	Sales() []sales.Sale
}

// Handler serves printable receipts.
type Handler struct {
	renderer  Renderer
	snapshot  SalesSnapshot
	pharmacy  sales.Pharmacy
	formatter *format.Formatter
	logger    *slog.Logger
}

// NewHandler creates a receipt handler. A nil renderer disables the PDF route.
func NewHandler(logger *slog.Logger, renderer Renderer, snapshot SalesSnapshot, pharmacy sales.Pharmacy, formatter *format.Formatter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{renderer: renderer, snapshot: snapshot, pharmacy: pharmacy, formatter: formatter, logger: logger}
}

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/receipts/{id}", h.html)
	r.Get("/receipts/{id}/pdf", h.pdf)
}

func (h *Handler) render(r *http.Request) (sales.Receipt, []byte, error) {
	id := chi.URLParam(r, "id")
	sale, ok := sales.Find(h.snapshot.Sales(), id)
	if !ok {
		return sales.Receipt{}, nil, &shared.NotFoundError{Kind: "sale", ID: id}
	}
	receipt := sales.NewReceipt(sale, h.pharmacy, h.formatter)
	page, err := RenderReceipt(receipt)
	return receipt, page, err
}

func (h *Handler) html(w http.ResponseWriter, r *http.Request) {
	_, page, err := h.render(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func (h *Handler) pdf(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Receipt printing unavailable", ErrRendererUnavailable.Error())
		return
	}
	receipt, page, err := h.render(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pdf, err := h.renderer.RenderHTML(r.Context(), page)
	if err != nil {
		h.logger.Error("render receipt pdf", slog.String("sale", receipt.SaleID), slog.Any("error", err))
		status := http.StatusBadGateway
		if errors.Is(err, ErrRendererUnavailable) {
			status = http.StatusServiceUnavailable
		}
		httpx.Problem(w, status, "Receipt printing failed", "")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename=receipt-"+receipt.Number+".pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
