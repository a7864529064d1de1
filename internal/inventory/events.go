package inventory

import (
	"context"
	"time"
)

// LowStockAlert is raised when a committed decrement leaves an item below
// the configured threshold.
type LowStockAlert struct {
	Identity  string    `json:"identity"`
	DrugID    string    `json:"drugId"`
	Name      string    `json:"name"`
	Remaining int       `json:"remaining"`
	Threshold int       `json:"threshold"`
	Source    string    `json:"source"`
	RaisedAt  time.Time `json:"raisedAt"`
}

// StockAlerter receives low-stock alerts after successful commits.
type StockAlerter interface {
	LowStock(ctx context.Context, alert LowStockAlert) error
}
