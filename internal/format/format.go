// Package format renders dates and money for operator-facing output.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Missing is rendered for absent dates.
const Missing = "N/A"

// DateLayout is the month/day/year layout used on receipts and tables.
const DateLayout = "01/02/2006"

// FormatDate renders t as MM/DD/YYYY, or Missing when t is nil or zero.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return Missing
	}
	return t.Format(DateLayout)
}

// Formatter renders currency amounts for a locale.
type Formatter struct {
	printer *message.Printer
	symbol  string
}

// NewFormatter builds a Formatter for locale (BCP 47) and an ISO 4217 code.
func NewFormatter(locale, code string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("format: parse locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("format: parse currency %q: %w", code, err)
	}
	printer := message.NewPrinter(tag)
	symbol := strings.TrimSpace(printer.Sprint(currency.Symbol(unit)))
	if symbol == "" {
		symbol = unit.String()
	}
	return &Formatter{printer: printer, symbol: symbol}, nil
}

// MustFormatter is NewFormatter for package-level defaults.
func MustFormatter(locale, code string) *Formatter {
	f, err := NewFormatter(locale, code)
	if err != nil {
		panic(err)
	}
	return f
}

// Currency renders amount with two decimals, locale grouping and the currency symbol.
func (f *Formatter) Currency(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	value, _ := rounded.Float64()
	digits := f.printer.Sprint(number.Decimal(value, number.Scale(2)))
	return sign + f.symbol + digits
}

// Symbol returns the resolved currency symbol.
func (f *Formatter) Symbol() string { return f.symbol }

var defaultFormatter = MustFormatter("en-NG", "NGN")

// FormatCurrency renders amount as Nigerian naira.
func FormatCurrency(amount decimal.Decimal) string {
	return defaultFormatter.Currency(amount)
}
