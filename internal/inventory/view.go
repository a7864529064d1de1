package inventory

import (
	"slices"
	"strings"
	"time"
)

// DefaultSearchLimit caps POS search results.
const DefaultSearchLimit = 10

// IsExpired reports whether the item's expiry date is before now.
func IsExpired(item Item, now time.Time) bool {
	return !item.ExpiryDate.IsZero() && item.ExpiryDate.Before(now)
}

// IsLowStock reports whether the inventory table should flag the item.
func IsLowStock(item Item) bool {
	return item.QuantityInStock < TableLowStockThreshold
}

// Search filters items whose name, generic name or batch number contain term.
func Search(items []Item, term string) []Item {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if matches(item.Name, term) || matches(item.GenericName, term) || matches(item.BatchNumber, term) {
			out = append(out, item)
		}
	}
	return out
}

// Sellable returns up to limit in-stock, unexpired items matching term by
// name or batch number.
func Sellable(items []Item, now time.Time, term string, limit int) []Item {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]Item, 0, limit)
	for _, item := range items {
		if len(out) == limit {
			break
		}
		if item.QuantityInStock <= 0 || IsExpired(item, now) {
			continue
		}
		if term != "" && !matches(item.Name, term) && !matches(item.BatchNumber, term) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// ExpiringWithin returns up to limit unexpired items whose expiry falls
// within window of now, soonest first.
func ExpiringWithin(items []Item, now time.Time, window time.Duration, limit int) []Item {
	cutoff := now.Add(window)
	var out []Item
	for _, item := range items {
		if item.ExpiryDate.IsZero() || !item.ExpiryDate.After(now) || item.ExpiryDate.After(cutoff) {
			continue
		}
		out = append(out, item)
	}
	slices.SortStableFunc(out, func(a, b Item) int { return a.ExpiryDate.Compare(b.ExpiryDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Find returns the item with id.
func Find(items []Item, id string) (Item, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

func matches(field, term string) bool {
	return strings.Contains(strings.ToLower(field), term)
}
