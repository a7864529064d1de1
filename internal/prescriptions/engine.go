package prescriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// EngineName labels prescription fills in metrics and alerts.
const EngineName = "prescription"

// ScopeSource yields the document scope of the signed-in operator.
type ScopeSource interface {
	Scope() (docstore.Scope, error)
}

// Snapshots resolves ids against the live inventory and prescription lists.
type Snapshots interface {
	FindItem(id string) (inventory.Item, bool)
	FindPrescription(id string) (Prescription, bool)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CommitRecorder counts commit outcomes.
type CommitRecorder interface {
	ObserveCommit(engine string, err error)
}

// Ports groups optional collaborators; nil fields are skipped.
type Ports struct {
	Audit   AuditPort
	Alerts  inventory.StockAlerter
	Metrics CommitRecorder
	Notices *shared.NoticeBoard
	Logger  *slog.Logger
}

// EngineConfig mirrors the sale engine settings. With StrictStock every
// decrement is conditional on the stock value that was validated and the
// prescription must still be unfilled when the batch lands.
type EngineConfig struct {
	StrictStock       bool
	LowStockThreshold int
}

// LogInput is a prescription as entered at the counter.
type LogInput struct {
	PatientIdentifier string      `json:"patientIdentifier" validate:"required"`
	DoctorName        string      `json:"doctorName" validate:"required"`
	Items             []LineInput `json:"items" validate:"required,min=1,dive"`
}

// LineInput is one entered line.
type LineInput struct {
	DrugID   string `json:"drugId" validate:"required"`
	Dosage   string `json:"dosage"`
	Quantity int    `json:"quantity" validate:"gte=1"`
}

// Engine logs and fills prescriptions.
type Engine struct {
	store     docstore.Store
	scopes    ScopeSource
	snapshots Snapshots
	validate  *validator.Validate
	ports     Ports
	cfg       EngineConfig
	now       func() time.Time

	mu sync.Mutex
}

// NewEngine builds Engine.
func NewEngine(store docstore.Store, scopes ScopeSource, snapshots Snapshots, ports Ports, cfg EngineConfig) *Engine {
	if ports.Logger == nil {
		ports.Logger = slog.Default()
	}
	return &Engine{
		store:     store,
		scopes:    scopes,
		snapshots: snapshots,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		ports:     ports,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Log records a new unfilled prescription. Stock is not checked: a
// prescription may be logged for later fulfilment.
func (e *Engine) Log(ctx context.Context, in LogInput) (Prescription, error) {
	scope, err := e.scopes.Scope()
	if err != nil {
		e.ports.Notices.Error(shared.UserMessage(err))
		return Prescription{}, err
	}
	in = normalise(in)
	if err := e.validateInput(in); err != nil {
		e.ports.Notices.Error(shared.UserMessage(err))
		return Prescription{}, err
	}

	p := Prescription{
		PatientIdentifier: in.PatientIdentifier,
		DoctorName:        in.DoctorName,
		DateIssued:        e.now().UTC(),
		Items:             make([]Line, 0, len(in.Items)),
	}
	for _, line := range in.Items {
		name := UnknownDrug
		if item, ok := e.snapshots.FindItem(line.DrugID); ok {
			name = item.Name
		}
		p.Items = append(p.Items, Line{DrugID: line.DrugID, DrugName: name, Dosage: line.Dosage, Quantity: line.Quantity})
	}

	id, err := NewCollection(e.store, scope).Insert(ctx, p)
	if err != nil {
		e.ports.Logger.Error("prescription log failed", slog.String("identity", scope.Identity), slog.Any("error", err))
		e.ports.Notices.Error(fmt.Sprintf("Error adding prescription: %v", err))
		return Prescription{}, &shared.CommitFailure{Op: "prescription.log", Err: err}
	}
	p.ID = id
	e.ports.Notices.Success("Prescription added successfully!")
	return p, nil
}

// ClampLineQuantity applies the entry rule for a line quantity: at least 1,
// and no more than the drug's current stock, with a notice when clamped.
func (e *Engine) ClampLineQuantity(drugID string, requested int) int {
	item, ok := e.snapshots.FindItem(drugID)
	if ok && requested > item.QuantityInStock {
		e.ports.Notices.Error(fmt.Sprintf("Only %d of %s in stock.", item.QuantityInStock, item.Name))
		return item.QuantityInStock
	}
	if requested < 1 {
		return 1
	}
	return requested
}

type demand struct {
	item     inventory.Item
	quantity int
}

// Fill rechecks every line against the current inventory snapshot and, only
// when all pass, decrements stock and marks the prescription filled in one
// batch. Lines naming the same drug are checked and decremented together.
func (e *Engine) Fill(ctx context.Context, id string) (Prescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	scope, err := e.scopes.Scope()
	if err != nil {
		e.ports.Notices.Error(shared.UserMessage(err))
		return Prescription{}, err
	}
	p, ok := e.snapshots.FindPrescription(id)
	if !ok {
		err := &shared.NotFoundError{Kind: "prescription", ID: id}
		e.ports.Notices.Error(err.UserMessage())
		return Prescription{}, err
	}
	if p.IsFilled {
		err := &shared.ValidationError{Field: FieldIsFilled, Message: "Prescription has already been filled."}
		e.ports.Notices.Error(err.Message)
		return Prescription{}, err
	}

	demands, err := e.checkStock(p)
	if err != nil {
		e.ports.Notices.Error(shared.UserMessage(err))
		return Prescription{}, err
	}

	filledAt := e.now().UTC()
	invCol := inventory.NewCollection(e.store, scope)
	presRef := NewCollection(e.store, scope).Doc(p.ID)

	batch := e.store.NewBatch()
	for _, d := range demands {
		ref := invCol.Doc(d.item.ID)
		if e.cfg.StrictStock {
			batch.Require(ref, inventory.FieldQuantityInStock, d.item.QuantityInStock)
		}
		batch.Update(ref, inventory.StockField(d.item.QuantityInStock-d.quantity))
	}
	batch.Require(presRef, FieldIsFilled, false)
	batch.Update(presRef, map[string]any{FieldIsFilled: true, FieldDateFilled: filledAt})

	if err := batch.Commit(context.WithoutCancel(ctx)); err != nil {
		e.observe(err)
		e.ports.Logger.Error("prescription fill failed", slog.String("prescription", p.ID), slog.Any("error", err))
		e.ports.Notices.Error(fmt.Sprintf("Error filling prescription: %v", err))
		return Prescription{}, &shared.CommitFailure{Op: "prescription.fill", Err: err}
	}

	p.IsFilled = true
	p.DateFilled = &filledAt
	e.observe(nil)
	e.ports.Notices.Success("Prescription filled successfully!")
	e.afterFill(ctx, scope, p, demands)
	return p, nil
}

// checkStock runs before any write. The first failing line aborts the fill.
func (e *Engine) checkStock(p Prescription) ([]demand, error) {
	var demands []demand
	index := map[string]int{}
	for _, line := range p.Items {
		item, ok := e.snapshots.FindItem(line.DrugID)
		if !ok {
			return nil, &shared.NotFoundError{Kind: "drug", ID: line.DrugID, Name: line.DrugName}
		}
		i, seen := index[line.DrugID]
		if !seen {
			i = len(demands)
			index[line.DrugID] = i
			demands = append(demands, demand{item: item})
		}
		demands[i].quantity += line.Quantity
		if demands[i].quantity > item.QuantityInStock {
			return nil, &shared.InsufficientStockError{
				DrugID:    item.ID,
				DrugName:  item.Name,
				Required:  demands[i].quantity,
				Available: item.QuantityInStock,
			}
		}
	}
	return demands, nil
}

func (e *Engine) afterFill(ctx context.Context, scope docstore.Scope, p Prescription, demands []demand) {
	ctx = context.WithoutCancel(ctx)
	if e.ports.Audit != nil {
		err := e.ports.Audit.Record(ctx, shared.AuditLog{
			ActorID:  scope.Identity,
			Action:   "prescription:fill",
			Entity:   CollectionName,
			EntityID: p.ID,
			Meta:     map[string]any{"patient": p.PatientIdentifier, "lines": len(p.Items)},
			At:       *p.DateFilled,
		})
		if err != nil {
			e.ports.Logger.Warn("prescription audit failed", slog.String("prescription", p.ID), slog.Any("error", err))
		}
	}
	if e.ports.Alerts == nil || e.cfg.LowStockThreshold <= 0 {
		return
	}
	for _, d := range demands {
		remaining := d.item.QuantityInStock - d.quantity
		if remaining >= e.cfg.LowStockThreshold {
			continue
		}
		alert := inventory.LowStockAlert{
			Identity:  scope.Identity,
			DrugID:    d.item.ID,
			Name:      d.item.Name,
			Remaining: remaining,
			Threshold: e.cfg.LowStockThreshold,
			Source:    EngineName,
			RaisedAt:  *p.DateFilled,
		}
		if err := e.ports.Alerts.LowStock(ctx, alert); err != nil {
			e.ports.Logger.Warn("low stock alert failed", slog.String("drug", d.item.ID), slog.Any("error", err))
		}
	}
}

func (e *Engine) validateInput(in LogInput) error {
	err := e.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &shared.ValidationError{Message: err.Error()}
	}
	first := fieldErrs[0]
	if first.Tag() == "gte" {
		return &shared.ValidationError{Field: first.Field(), Message: "Quantity must be at least 1."}
	}
	return &shared.ValidationError{Field: first.Field(), Message: "Please fill all required fields."}
}

func (e *Engine) observe(err error) {
	if e.ports.Metrics != nil {
		e.ports.Metrics.ObserveCommit(EngineName, err)
	}
}

func normalise(in LogInput) LogInput {
	in.PatientIdentifier = strings.TrimSpace(in.PatientIdentifier)
	in.DoctorName = strings.TrimSpace(in.DoctorName)
	items := make([]LineInput, len(in.Items))
	for i, line := range in.Items {
		line.DrugID = strings.TrimSpace(line.DrugID)
		line.Dosage = strings.TrimSpace(line.Dosage)
		if line.Quantity == 0 {
			line.Quantity = 1
		}
		items[i] = line
	}
	in.Items = items
	return in
}
