package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/rxoptima/rxoptima/internal/format"
	"github.com/rxoptima/rxoptima/internal/platform/httpx"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// Snapshot exposes the live inventory.
type Snapshot interface {
	Items() []Item
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	snapshot  Snapshot
	formatter *format.Formatter
	now       func() time.Time
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, snapshot Snapshot, formatter *format.Formatter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, snapshot: snapshot, formatter: formatter, now: time.Now}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
}

type itemRequest struct {
	Name            string          `json:"name"`
	GenericName     string          `json:"genericName"`
	Manufacturer    string          `json:"manufacturer"`
	BatchNumber     string          `json:"batchNumber"`
	ExpiryDate      string          `json:"expiryDate"`
	QuantityInStock int             `json:"quantityInStock"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
}

// ItemView is an inventory row with display fields.
type ItemView struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	GenericName     string          `json:"genericName"`
	Manufacturer    string          `json:"manufacturer"`
	BatchNumber     string          `json:"batchNumber"`
	ExpiryDate      string          `json:"expiryDate"`
	QuantityInStock int             `json:"quantityInStock"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	UnitPriceText   string          `json:"unitPriceText"`
	Expired         bool            `json:"expired"`
	LowStock        bool            `json:"lowStock"`
}

func (req itemRequest) toItem() (Item, error) {
	batch, ok := SanitizeBatchNumber(req.BatchNumber)
	if !ok {
		return Item{}, &shared.ValidationError{Field: "batchNumber", Message: "Batch Number must be 1 to 5 digits."}
	}
	var expiry time.Time
	if req.ExpiryDate != "" {
		parsed, err := time.Parse(time.DateOnly, req.ExpiryDate)
		if err != nil {
			return Item{}, &shared.ValidationError{Field: "expiryDate", Message: "Expiry Date must be YYYY-MM-DD."}
		}
		expiry = parsed
	}
	return Item{
		Name:            req.Name,
		GenericName:     req.GenericName,
		Manufacturer:    req.Manufacturer,
		BatchNumber:     batch,
		ExpiryDate:      expiry,
		QuantityInStock: req.QuantityInStock,
		UnitPrice:       req.UnitPrice,
	}, nil
}

// View renders item for display at now.
func View(item Item, now time.Time, f *format.Formatter) ItemView {
	expiry := item.ExpiryDate
	return ItemView{
		ID:              item.ID,
		Name:            item.Name,
		GenericName:     item.GenericName,
		Manufacturer:    item.Manufacturer,
		BatchNumber:     item.BatchNumber,
		ExpiryDate:      format.FormatDate(&expiry),
		QuantityInStock: item.QuantityInStock,
		UnitPrice:       item.UnitPrice,
		UnitPriceText:   f.Currency(item.UnitPrice),
		Expired:         IsExpired(item, now),
		LowStock:        IsLowStock(item),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items := Search(h.snapshot.Items(), r.URL.Query().Get("q"))
	now := h.now()
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, View(item, now, h.formatter))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := req.toItem()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), item)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, View(created, h.now(), h.formatter))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := req.toItem()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), item)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, View(updated, h.now(), h.formatter))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
