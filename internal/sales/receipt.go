package sales

import (
	"github.com/shopspring/decimal"

	"github.com/rxoptima/rxoptima/internal/format"
)

// Pharmacy identifies the business printed on receipts.
type Pharmacy struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// DefaultPharmacy is printed when no other details are configured.
var DefaultPharmacy = Pharmacy{
	Name:    "RxOptima",
	Address: "123 Health Way, Kaduna, Nigeria",
	Phone:   "+234 707-227-5442",
}

// Receipt is the printable rendering of a committed sale.
type Receipt struct {
	Pharmacy Pharmacy      `json:"pharmacy"`
	Number   string        `json:"number"`
	SaleID   string        `json:"saleId"`
	Date     string        `json:"date"`
	Lines    []ReceiptLine `json:"lines"`
	Subtotal string        `json:"subtotal"`
	Tax      string        `json:"tax"`
	Total    string        `json:"total"`
	Footer   []string      `json:"footer"`
}

// ReceiptLine is one printed line.
type ReceiptLine struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Total     string `json:"total"`
}

// NewReceipt renders sale with f.
func NewReceipt(sale Sale, pharmacy Pharmacy, f *format.Formatter) Receipt {
	number := sale.ID
	if len(number) > 8 {
		number = number[:8]
	}
	ts := sale.Timestamp
	r := Receipt{
		Pharmacy: pharmacy,
		Number:   number,
		SaleID:   sale.ID,
		Date:     format.FormatDate(&ts),
		Subtotal: f.Currency(sale.TotalAmount),
		Tax:      f.Currency(decimal.Zero),
		Total:    f.Currency(sale.TotalAmount),
		Footer:   []string{"Thank you for your patronage!", "Please consult your pharmacist for medication guidance."},
	}
	for _, item := range sale.Items {
		r.Lines = append(r.Lines, ReceiptLine{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: f.Currency(item.UnitPrice),
			Total:     f.Currency(item.TotalPrice),
		})
	}
	return r
}
