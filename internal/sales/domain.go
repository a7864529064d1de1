package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxoptima/rxoptima/internal/docstore"
)

// CollectionName is the per-identity sales collection.
const CollectionName = "sales"

// Sale is a committed point-of-sale transaction.
type Sale struct {
	ID          string          `json:"-"`
	Timestamp   time.Time       `json:"timestamp"`
	Items       []SaleItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// SetID restores the document id after decoding.
func (s *Sale) SetID(id string) { s.ID = id }

// SaleItem is one sold line, priced at commit time.
type SaleItem struct {
	DrugID     string          `json:"drugId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// NewCollection binds the sales collection of scope, newest first.
func NewCollection(store docstore.Store, scope docstore.Scope) *docstore.Collection[Sale] {
	return docstore.NewCollection[Sale](store, scope, CollectionName,
		docstore.OrderBy(func(s Sale) time.Time { return s.Timestamp }))
}

// Find looks id up in a sales snapshot.
func Find(list []Sale, id string) (Sale, bool) {
	for _, s := range list {
		if s.ID == id {
			return s, true
		}
	}
	return Sale{}, false
}
