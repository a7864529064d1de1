package sales

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// InventoryView looks items up in the live inventory snapshot.
type InventoryView interface {
	FindItem(id string) (inventory.Item, bool)
}

// CartLine is a pending sale line. Item is the inventory snapshot taken when
// the line was last validated; commit decrements from its QuantityInStock.
type CartLine struct {
	Item     inventory.Item `json:"item"`
	Quantity int            `json:"quantity"`
}

// LineTotal is unit price times quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.Item.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart holds the pending lines of one station. Each drug appears at most
// once and every quantity is positive.
type Cart struct {
	mu        sync.Mutex
	lines     []CartLine
	inventory InventoryView
	notices   *shared.NoticeBoard
}

// NewCart returns an empty cart validating against view.
func NewCart(view InventoryView, notices *shared.NoticeBoard) *Cart {
	return &Cart{inventory: view, notices: notices}
}

// Add puts one unit of the drug in the cart, or increments its line.
func (c *Cart) Add(drugID string) error {
	return c.AddQuantity(drugID, 1)
}

// AddQuantity adds n units of the drug. A request that would take the line
// beyond the on-hand quantity is rejected whole and the cart is unchanged.
func (c *Cart) AddQuantity(drugID string, n int) error {
	if n <= 0 {
		return &shared.ValidationError{Field: "quantity", Message: "Quantity must be at least 1."}
	}
	item, ok := c.inventory.FindItem(drugID)
	if !ok {
		return &shared.NotFoundError{Kind: "drug", ID: drugID}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if item.QuantityInStock <= 0 {
		c.notices.Error("Item is out of stock.")
		return &shared.InsufficientStockError{DrugID: item.ID, DrugName: item.Name, Required: n, Available: item.QuantityInStock}
	}
	current := 0
	idx := c.indexLocked(drugID)
	if idx >= 0 {
		current = c.lines[idx].Quantity
	}
	next := current + n
	if next > item.QuantityInStock {
		c.notices.Error(fmt.Sprintf("Only %d in stock.", item.QuantityInStock))
		return &shared.InsufficientStockError{DrugID: item.ID, DrugName: item.Name, Required: next, Available: item.QuantityInStock}
	}
	if idx >= 0 {
		c.lines[idx] = CartLine{Item: item, Quantity: next}
		return nil
	}
	c.lines = append(c.lines, CartLine{Item: item, Quantity: next})
	return nil
}

// SetQuantity sets a line's quantity. Non-positive quantities remove the
// line; quantities above stock are clamped to stock with a notice.
func (c *Cart) SetQuantity(drugID string, quantity int) (CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexLocked(drugID)
	if idx < 0 {
		return CartLine{}, &shared.NotFoundError{Kind: "cart line", ID: drugID}
	}
	if quantity <= 0 {
		c.removeLocked(idx)
		return CartLine{}, nil
	}
	item, ok := c.inventory.FindItem(drugID)
	if !ok {
		return CartLine{}, &shared.NotFoundError{Kind: "drug", ID: drugID}
	}
	if quantity > item.QuantityInStock {
		c.notices.Error(fmt.Sprintf("Only %d in stock.", item.QuantityInStock))
		quantity = item.QuantityInStock
	}
	if quantity <= 0 {
		c.removeLocked(idx)
		return CartLine{}, nil
	}
	c.lines[idx] = CartLine{Item: item, Quantity: quantity}
	return c.lines[idx], nil
}

// Remove drops the drug's line if present.
func (c *Cart) Remove(drugID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexLocked(drugID); idx >= 0 {
		c.removeLocked(idx)
	}
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Total is the sum of line totals.
func (c *Cart) Total() decimal.Decimal {
	return Total(c.Lines())
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// Settle removes what a committed sale took from the cart. Lines added while
// the sale was committing stay; a line that grew in the meantime keeps the
// extra units against the stock the sale left behind.
func (c *Cart) Settle(committed []CartLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, done := range committed {
		idx := c.indexLocked(done.Item.ID)
		if idx < 0 {
			continue
		}
		line := c.lines[idx]
		if line.Quantity <= done.Quantity {
			c.removeLocked(idx)
			continue
		}
		line.Quantity -= done.Quantity
		line.Item.QuantityInStock = done.Item.QuantityInStock - done.Quantity
		c.lines[idx] = line
	}
}

// Total sums line totals.
func Total(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

func (c *Cart) indexLocked(drugID string) int {
	for i, line := range c.lines {
		if line.Item.ID == drugID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeLocked(idx int) {
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}
