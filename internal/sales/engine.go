package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// EngineName labels sale commits in metrics.
const EngineName = "sale"

// ScopeSource yields the document scope of the signed-in operator.
type ScopeSource interface {
	Scope() (docstore.Scope, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CommitRecorder counts commit outcomes.
type CommitRecorder interface {
	ObserveCommit(engine string, err error)
}

// EngineConfig groups optional settings. StrictStock makes each decrement
// conditional on the stock value the cart last validated, so a concurrent
// change fails the commit instead of being overwritten.
type EngineConfig struct {
	StrictStock       bool
	LowStockThreshold int
}

// Ports groups optional collaborators; nil fields are skipped.
type Ports struct {
	Audit   AuditPort
	Alerts  inventory.StockAlerter
	Metrics CommitRecorder
	Notices *shared.NoticeBoard
	Logger  *slog.Logger
}

// Engine commits carts as one atomic batch.
type Engine struct {
	store  docstore.Store
	scopes ScopeSource
	ports  Ports
	cfg    EngineConfig
	now    func() time.Time

	mu sync.Mutex
}

// NewEngine builds Engine.
func NewEngine(store docstore.Store, scopes ScopeSource, ports Ports, cfg EngineConfig) *Engine {
	if ports.Logger == nil {
		ports.Logger = slog.Default()
	}
	return &Engine{store: store, scopes: scopes, ports: ports, cfg: cfg, now: time.Now}
}

// Commit records a sale for every cart line and decrements each drug's stock
// to the line's snapshot quantity minus the sold quantity, atomically. On
// success the cart is cleared; on failure nothing is written and the cart
// is left as it was.
func (e *Engine) Commit(ctx context.Context, cart *Cart) (Sale, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	scope, err := e.scopes.Scope()
	if err != nil {
		e.ports.Notices.Error(shared.UserMessage(err))
		return Sale{}, err
	}
	lines := cart.Lines()
	if len(lines) == 0 {
		e.ports.Notices.Error("Cart is empty.")
		return Sale{}, shared.ErrEmptyCart
	}

	sale := Sale{Timestamp: e.now().UTC(), TotalAmount: Total(lines)}
	for _, line := range lines {
		sale.Items = append(sale.Items, SaleItem{
			DrugID:     line.Item.ID,
			Name:       line.Item.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.Item.UnitPrice,
			TotalPrice: line.LineTotal(),
		})
	}

	salesCol := NewCollection(e.store, scope)
	invCol := inventory.NewCollection(e.store, scope)
	data, err := salesCol.Encode(sale)
	if err != nil {
		return Sale{}, err
	}

	saleID := e.store.NewID()
	batch := e.store.NewBatch()
	batch.Set(salesCol.Doc(saleID), data)
	for _, line := range lines {
		ref := invCol.Doc(line.Item.ID)
		if e.cfg.StrictStock {
			batch.Require(ref, inventory.FieldQuantityInStock, line.Item.QuantityInStock)
		}
		batch.Update(ref, inventory.StockField(line.Item.QuantityInStock-line.Quantity))
	}

	if err := batch.Commit(context.WithoutCancel(ctx)); err != nil {
		e.observe(err)
		e.ports.Logger.Error("sale commit failed", slog.String("identity", scope.Identity), slog.Any("error", err))
		e.ports.Notices.Error(fmt.Sprintf("Error processing sale: %v", err))
		return Sale{}, &shared.CommitFailure{Op: "sale.commit", Err: err}
	}

	sale.ID = saleID
	cart.Settle(lines)
	e.observe(nil)
	e.ports.Notices.Success("Sale processed successfully!")
	e.afterCommit(ctx, scope, sale, lines)
	return sale, nil
}

func (e *Engine) afterCommit(ctx context.Context, scope docstore.Scope, sale Sale, lines []CartLine) {
	ctx = context.WithoutCancel(ctx)
	if e.ports.Audit != nil {
		err := e.ports.Audit.Record(ctx, shared.AuditLog{
			ActorID:  scope.Identity,
			Action:   "sale:commit",
			Entity:   CollectionName,
			EntityID: sale.ID,
			Meta:     map[string]any{"total": sale.TotalAmount.StringFixed(2), "lines": len(sale.Items)},
			At:       sale.Timestamp,
		})
		if err != nil {
			e.ports.Logger.Warn("sale audit failed", slog.String("sale", sale.ID), slog.Any("error", err))
		}
	}
	if e.ports.Alerts == nil || e.cfg.LowStockThreshold <= 0 {
		return
	}
	for _, line := range lines {
		remaining := line.Item.QuantityInStock - line.Quantity
		if remaining >= e.cfg.LowStockThreshold {
			continue
		}
		alert := inventory.LowStockAlert{
			Identity:  scope.Identity,
			DrugID:    line.Item.ID,
			Name:      line.Item.Name,
			Remaining: remaining,
			Threshold: e.cfg.LowStockThreshold,
			Source:    EngineName,
			RaisedAt:  sale.Timestamp,
		}
		if err := e.ports.Alerts.LowStock(ctx, alert); err != nil {
			e.ports.Logger.Warn("low stock alert failed", slog.String("drug", line.Item.ID), slog.Any("error", err))
		}
	}
}

func (e *Engine) observe(err error) {
	if e.ports.Metrics != nil {
		e.ports.Metrics.ObserveCommit(EngineName, err)
	}
}
