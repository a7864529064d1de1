package prescriptions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rxoptima/rxoptima/internal/format"
	"github.com/rxoptima/rxoptima/internal/platform/httpx"
)

// Snapshot exposes the live prescriptions list.
type Snapshot interface {
	Prescriptions() []Prescription
}

// Handler wires prescription endpoints.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	snapshot Snapshot
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, snapshot Snapshot) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, snapshot: snapshot}
}

// MountRoutes registers prescription routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/prescriptions", h.list)
	r.Post("/prescriptions", h.create)
	r.Post("/prescriptions/line-quantity", h.clamp)
	r.Post("/prescriptions/{id}/fill", h.fill)
}

// View is a prescription with display dates.
type View struct {
	ID                string `json:"id"`
	PatientIdentifier string `json:"patientIdentifier"`
	DoctorName        string `json:"doctorName"`
	DateIssued        string `json:"dateIssued"`
	IsFilled          bool   `json:"isFilled"`
	DateFilled        string `json:"dateFilled"`
	Items             []Line `json:"items"`
}

// NewView renders p for display.
func NewView(p Prescription) View {
	issued := p.DateIssued
	return View{
		ID:                p.ID,
		PatientIdentifier: p.PatientIdentifier,
		DoctorName:        p.DoctorName,
		DateIssued:        format.FormatDate(&issued),
		IsFilled:          p.IsFilled,
		DateFilled:        format.FormatDate(p.DateFilled),
		Items:             p.Items,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list := h.snapshot.Prescriptions()
	if r.URL.Query().Get("status") == "pending" {
		list = Pending(list)
	}
	views := make([]View, 0, len(list))
	for _, p := range list {
		views = append(views, NewView(p))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in LogInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.engine.Log(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewView(p))
}

func (h *Handler) clamp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DrugID   string `json:"drugId"`
		Quantity int    `json:"quantity"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"quantity": h.engine.ClampLineQuantity(req.DrugID, req.Quantity)})
}

func (h *Handler) fill(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Fill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Warn("prescription fill rejected", slog.String("prescription", chi.URLParam(r, "id")), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewView(p))
}
