package main

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/identity"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/shared"
)

type demoItem struct {
	id           string
	name         string
	genericName  string
	manufacturer string
	batch        string
	expiresIn    time.Duration
	stock        int
	price        string
}

const day = 24 * time.Hour

// demoItems cover the dashboard states: healthy, low, expiring and expired.
var demoItems = []demoItem{
	{"amoxil-500", "Amoxil 500mg", "Amoxicillin", "GSK", "10231", 400 * day, 120, "1500"},
	{"panadol-ext", "Panadol Extra", "Paracetamol", "GSK", "20417", 600 * day, 300, "450"},
	{"ciprotab-500", "Ciprotab 500mg", "Ciprofloxacin", "Fidson", "31002", 20 * day, 45, "2200"},
	{"coartem-20", "Coartem 20/120", "Artemether/Lumefantrine", "Novartis", "40876", 250 * day, 12, "3500"},
	{"flagyl-400", "Flagyl 400mg", "Metronidazole", "Sanofi", "51190", 10 * day, 8, "900"},
	{"ventolin-inh", "Ventolin Inhaler", "Salbutamol", "GSK", "62003", -15 * day, 6, "4800"},
	{"augmentin-625", "Augmentin 625mg", "Co-amoxiclav", "GSK", "70311", 365 * day, 0, "6100"},
}

// seedAccount creates the operator account, or returns it when already present.
func seedAccount(ctx context.Context, accounts identity.AccountRepository, email, password string) (*identity.Account, error) {
	acc, err := accounts.FindByEmail(ctx, email)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	return identity.CreateAccount(ctx, accounts, email, password)
}

// seedInventory writes the demo items with fixed ids so reruns overwrite
// instead of duplicating.
func seedInventory(ctx context.Context, store docstore.Store, namespace, identityID string, now time.Time) (int, error) {
	col := inventory.NewCollection(store, docstore.Scope{Namespace: namespace, Identity: identityID})
	validate := inventory.NewValidator()
	today := now.Truncate(day)
	for _, d := range demoItems {
		item := inventory.Item{
			Name:            d.name,
			GenericName:     d.genericName,
			Manufacturer:    d.manufacturer,
			BatchNumber:     d.batch,
			ExpiryDate:      today.Add(d.expiresIn),
			QuantityInStock: d.stock,
			UnitPrice:       decimal.RequireFromString(d.price),
		}
		if err := inventory.Validate(validate, item); err != nil {
			return 0, err
		}
		if err := col.Replace(ctx, d.id, item); err != nil {
			return 0, err
		}
	}
	return len(demoItems), nil
}
