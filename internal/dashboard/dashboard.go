// Package dashboard summarises the live collections for the landing view.
package dashboard

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/rxoptima/rxoptima/internal/format"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/prescriptions"
	"github.com/rxoptima/rxoptima/internal/sales"
)

// Display limits for the recent and expiring lists.
const (
	RecentSalesLimit  = 5
	ExpiringSoonLimit = 5
)

// Snapshot exposes the live collections.
type Snapshot interface {
	Identity() string
	Items() []inventory.Item
	Sales() []sales.Sale
	Prescriptions() []prescriptions.Prescription
}

// Options tunes the summary thresholds.
type Options struct {
	LowStockThreshold int
	ExpiryWindow      time.Duration
}

// Summary is the dashboard at one instant.
type Summary struct {
	TotalDrugTypes       int             `json:"totalDrugTypes"`
	LowStockItems        int             `json:"lowStockItems"`
	ExpiredItems         int             `json:"expiredItems"`
	TotalStockValue      decimal.Decimal `json:"totalStockValue"`
	TotalStockValueText  string          `json:"totalStockValueText"`
	PendingPrescriptions int             `json:"pendingPrescriptions"`
	RecentSales          []RecentSale    `json:"recentSales"`
	ExpiringSoon         []ExpiringItem  `json:"expiringSoon"`
	GeneratedAt          time.Time       `json:"generatedAt"`
}

// RecentSale is one of the latest sales.
type RecentSale struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Total string `json:"total"`
	Date  string `json:"date"`
}

// ExpiringItem is an item expiring within the window.
type ExpiringItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	BatchNumber     string `json:"batchNumber"`
	ExpiryDate      string `json:"expiryDate"`
	QuantityInStock int    `json:"quantityInStock"`
}

// Compute builds the summary from snapshots at now.
func Compute(items []inventory.Item, saleList []sales.Sale, list []prescriptions.Prescription, now time.Time, opts Options, f *format.Formatter) Summary {
	s := Summary{
		TotalDrugTypes:       len(items),
		TotalStockValue:      decimal.Zero,
		PendingPrescriptions: len(prescriptions.Pending(list)),
		RecentSales:          []RecentSale{},
		ExpiringSoon:         []ExpiringItem{},
		GeneratedAt:          now,
	}
	for _, item := range items {
		if item.QuantityInStock < opts.LowStockThreshold {
			s.LowStockItems++
		}
		if inventory.IsExpired(item, now) {
			s.ExpiredItems++
		}
		s.TotalStockValue = s.TotalStockValue.Add(item.StockValue())
	}
	s.TotalStockValueText = f.Currency(s.TotalStockValue)

	for i, sale := range saleList {
		if i == RecentSalesLimit {
			break
		}
		label := sale.ID
		if len(label) > 6 {
			label = label[:6]
		}
		ts := sale.Timestamp
		s.RecentSales = append(s.RecentSales, RecentSale{
			ID:    sale.ID,
			Label: "Sale #" + label + "...",
			Total: f.Currency(sale.TotalAmount),
			Date:  format.FormatDate(&ts),
		})
	}

	for _, item := range inventory.ExpiringWithin(items, now, opts.ExpiryWindow, ExpiringSoonLimit) {
		expiry := item.ExpiryDate
		s.ExpiringSoon = append(s.ExpiringSoon, ExpiringItem{
			ID:              item.ID,
			Name:            item.Name,
			BatchNumber:     item.BatchNumber,
			ExpiryDate:      format.FormatDate(&expiry),
			QuantityInStock: item.QuantityInStock,
		})
	}
	return s
}

// Service computes summaries from the live snapshot. Concurrent requests for
// the same identity share one computation.
type Service struct {
	snapshot  Snapshot
	opts      Options
	formatter *format.Formatter
	now       func() time.Time
	group     singleflight.Group
}

// NewService builds Service.
func NewService(snapshot Snapshot, opts Options, formatter *format.Formatter) *Service {
	return &Service{snapshot: snapshot, opts: opts, formatter: formatter, now: time.Now}
}

// Summary returns the current summary.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	ch := s.group.DoChan("summary:"+s.snapshot.Identity(), func() (interface{}, error) {
		return Compute(s.snapshot.Items(), s.snapshot.Sales(), s.snapshot.Prescriptions(), s.now(), s.opts, s.formatter), nil
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}
