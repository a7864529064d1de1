package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxoptima/rxoptima/internal/docstore"
)

// CollectionName is the per-identity inventory collection.
const CollectionName = "inventory"

// FieldQuantityInStock is the stored name of the on-hand quantity.
const FieldQuantityInStock = "quantityInStock"

// TableLowStockThreshold marks rows in the inventory table view.
const TableLowStockThreshold = 10

// Item is one stocked drug batch.
type Item struct {
	ID              string          `json:"-"`
	Name            string          `json:"name" validate:"required"`
	GenericName     string          `json:"genericName"`
	Manufacturer    string          `json:"manufacturer"`
	BatchNumber     string          `json:"batchNumber" validate:"required,batchno"`
	ExpiryDate      time.Time       `json:"expiryDate" validate:"required"`
	QuantityInStock int             `json:"quantityInStock"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
}

// SetID restores the document id after decoding.
func (i *Item) SetID(id string) { i.ID = id }

// StockValue is quantity times unit price.
func (i Item) StockValue() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.QuantityInStock)))
}

// NewCollection binds the inventory collection of scope.
func NewCollection(store docstore.Store, scope docstore.Scope) *docstore.Collection[Item] {
	return docstore.NewCollection[Item](store, scope, CollectionName)
}

// StockField builds the patch setting the on-hand quantity.
func StockField(quantity int) map[string]any {
	return map[string]any{FieldQuantityInStock: quantity}
}
