package receipt

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The functions below compute the read models from loaded receipts. BoltDB
// uses them directly; SQLiteDB answers the same questions in SQL and the
// shared storage tests keep the two in line.

// sortNewestFirst orders by date descending with undated receipts last, then
// by ID descending.
func sortNewestFirst(receipts []*Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		a, b := receipts[i], receipts[j]
		switch {
		case a.Date == nil && b.Date == nil:
			return a.ID > b.ID
		case a.Date == nil:
			return false
		case b.Date == nil:
			return true
		case !a.Date.Equal(*b.Date):
			return a.Date.After(*b.Date)
		}
		return a.ID > b.ID
	})
}

func categoryTotals(receipts []*Receipt, f Filter) []CategoryTotal {
	type acc struct {
		count     int
		total     decimal.Decimal
		unitTotal decimal.Decimal
	}
	byCategory := make(map[string]*acc)
	for _, r := range receipts {
		if !f.Matches(r) {
			continue
		}
		for _, it := range r.Items {
			if !isSpend(it) {
				continue
			}
			a, ok := byCategory[it.Category]
			if !ok {
				a = &acc{}
				byCategory[it.Category] = a
			}
			a.count++
			a.total = a.total.Add(it.TotalPrice)
			a.unitTotal = a.unitTotal.Add(it.UnitPrice)
		}
	}

	out := make([]CategoryTotal, 0, len(byCategory))
	for category, a := range byCategory {
		out = append(out, CategoryTotal{
			Category:   category,
			Count:      a.count,
			TotalSpent: a.total.Round(2),
			AvgPrice:   a.unitTotal.Div(decimal.NewFromInt(int64(a.count))).Round(2),
		})
	}
	sortCategoryTotals(out)
	return out
}

// sortCategoryTotals orders by total spent descending, then by label.
func sortCategoryTotals(totals []CategoryTotal) {
	sort.SliceStable(totals, func(i, j int) bool {
		if c := totals[i].TotalSpent.Cmp(totals[j].TotalSpent); c != 0 {
			return c > 0
		}
		return totals[i].Category < totals[j].Category
	})
}

// priceHistory lists unit prices of items whose name contains pattern
// (case-insensitive). Each (name, date, store) combination is reported once,
// first occurrence wins. Undated rows sort first.
func priceHistory(receipts []*Receipt, pattern string) []PricePoint {
	ordered := append([]*Receipt(nil), receipts...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	needle := strings.ToLower(pattern)
	seen := make(map[string]bool)
	out := []PricePoint{}
	for _, r := range ordered {
		for _, it := range r.Items {
			if !strings.Contains(strings.ToLower(it.Name), needle) {
				continue
			}
			key := it.Name + "\x00" + dateKey(r.Date) + "\x00" + r.StoreName
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, PricePoint{ItemName: it.Name, Price: it.UnitPrice, Date: r.Date, StoreName: r.StoreName})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Date, out[j].Date
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	return out
}

// searchItems groups non-system items containing term by (name, category),
// most purchased first.
func searchItems(receipts []*Receipt, term string) []ItemSummary {
	type acc struct {
		name, category string
		count          int
		unitTotal      decimal.Decimal
	}
	needle := strings.ToLower(term)
	groups := make(map[string]*acc)
	for _, r := range receipts {
		for _, it := range r.Items {
			if !isSpend(it) || !strings.Contains(strings.ToLower(it.Name), needle) {
				continue
			}
			key := it.Name + "\x00" + it.Category
			a, ok := groups[key]
			if !ok {
				a = &acc{name: it.Name, category: it.Category}
				groups[key] = a
			}
			a.count++
			a.unitTotal = a.unitTotal.Add(it.UnitPrice)
		}
	}

	out := make([]ItemSummary, 0, len(groups))
	for _, a := range groups {
		out = append(out, ItemSummary{
			Name:          a.name,
			Category:      a.category,
			AvgPrice:      a.unitTotal.Div(decimal.NewFromInt(int64(a.count))).Round(2),
			PurchaseCount: a.count,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PurchaseCount != out[j].PurchaseCount {
			return out[i].PurchaseCount > out[j].PurchaseCount
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func storeNames(receipts []*Receipt) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range receipts {
		if !seen[r.StoreName] {
			seen[r.StoreName] = true
			out = append(out, r.StoreName)
		}
	}
	sort.Strings(out)
	return out
}

// semanticKey identifies a receipt by store, date and total. ok is false for
// undated receipts, which cannot be told apart.
func semanticKey(store string, date *time.Time, total decimal.Decimal) (string, bool) {
	if date == nil {
		return "", false
	}
	return store + "\x00" + dateKey(date) + "\x00" + total.StringFixed(2), true
}

func dateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
