package sales

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rxoptima/rxoptima/internal/format"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/platform/httpx"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// Snapshot exposes the live collections the POS reads.
type Snapshot interface {
	Items() []inventory.Item
	Sales() []Sale
}

// Handler wires point-of-sale endpoints.
type Handler struct {
	logger    *slog.Logger
	cart      *Cart
	engine    *Engine
	snapshot  Snapshot
	formatter *format.Formatter
	pharmacy  Pharmacy
	now       func() time.Time

	idempotency *shared.IdempotencyStore
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, cart *Cart, engine *Engine, snapshot Snapshot, formatter *format.Formatter, pharmacy Pharmacy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		cart:      cart,
		engine:    engine,
		snapshot:  snapshot,
		formatter: formatter,
		pharmacy:  pharmacy,
		now:       time.Now,
	}
}

// WithIdempotency makes checkout honour the Idempotency-Key header.
func (h *Handler) WithIdempotency(store *shared.IdempotencyStore) *Handler {
	h.idempotency = store
	return h
}

// MountRoutes registers POS and sales history routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pos/search", h.search)
	r.Get("/pos/cart", h.showCart)
	r.Post("/pos/cart/lines", h.addLine)
	r.Put("/pos/cart/lines/{id}", h.setQuantity)
	r.Delete("/pos/cart/lines/{id}", h.removeLine)
	r.Post("/pos/checkout", h.checkout)
	r.Get("/sales", h.listSales)
}

type cartView struct {
	Lines     []cartLineView `json:"lines"`
	Total     string         `json:"total"`
	TotalText string         `json:"totalText"`
}

type cartLineView struct {
	DrugID    string `json:"drugId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	InStock   int    `json:"inStock"`
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal"`
}

func (h *Handler) renderCart() cartView {
	lines := h.cart.Lines()
	view := cartView{Lines: make([]cartLineView, 0, len(lines))}
	for _, line := range lines {
		view.Lines = append(view.Lines, cartLineView{
			DrugID:    line.Item.ID,
			Name:      line.Item.Name,
			Quantity:  line.Quantity,
			InStock:   line.Item.QuantityInStock,
			UnitPrice: h.formatter.Currency(line.Item.UnitPrice),
			LineTotal: h.formatter.Currency(line.LineTotal()),
		})
	}
	total := Total(lines)
	view.Total = total.StringFixed(2)
	view.TotalText = h.formatter.Currency(total)
	return view
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	items := inventory.Sellable(h.snapshot.Items(), now, r.URL.Query().Get("q"), inventory.DefaultSearchLimit)
	views := make([]inventory.ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, inventory.View(item, now, h.formatter))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) showCart(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.renderCart())
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DrugID   string `json:"drugId"`
		Quantity int    `json:"quantity"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if err := h.cart.AddQuantity(req.DrugID, req.Quantity); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.renderCart())
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if _, err := h.cart.SetQuantity(chi.URLParam(r, "id"), req.Quantity); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.renderCart())
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	h.cart.Remove(chi.URLParam(r, "id"))
	httpx.JSON(w, http.StatusOK, h.renderCart())
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	claimed := false
	if key != "" && h.idempotency != nil {
		err := h.idempotency.Claim(r.Context(), "checkout", key)
		switch {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			httpx.RespondError(w, err)
			return
		case err != nil:
			h.logger.Warn("idempotency guard unavailable", slog.Any("error", err))
		default:
			claimed = true
		}
	}
	sale, err := h.engine.Commit(r.Context(), h.cart)
	if err != nil {
		if claimed {
			if relErr := h.idempotency.Release(context.WithoutCancel(r.Context()), "checkout", key); relErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
		h.logger.Warn("checkout rejected", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewReceipt(sale, h.pharmacy, h.formatter))
}

// View is a committed sale with display fields.
type View struct {
	ID        string     `json:"id"`
	Date      string     `json:"date"`
	Timestamp time.Time  `json:"timestamp"`
	Items     []SaleItem `json:"items"`
	Total     string     `json:"total"`
	TotalText string     `json:"totalText"`
}

// NewView renders sale with f.
func NewView(sale Sale, f *format.Formatter) View {
	ts := sale.Timestamp
	return View{
		ID:        sale.ID,
		Date:      format.FormatDate(&ts),
		Timestamp: sale.Timestamp,
		Items:     sale.Items,
		Total:     sale.TotalAmount.StringFixed(2),
		TotalText: f.Currency(sale.TotalAmount),
	}
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	sales := h.snapshot.Sales()
	views := make([]View, 0, len(sales))
	for _, sale := range sales {
		views = append(views, NewView(sale, h.formatter))
	}
	httpx.JSON(w, http.StatusOK, views)
}
