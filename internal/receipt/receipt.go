package receipt

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kassenbon/analyzer/internal/classify"
)

// Receipt is one stored till receipt. Dates are wall-clock values without a
// zone and are kept in UTC.
type Receipt struct {
	ID            int64           `json:"id"`
	StoreName     string          `json:"store_name"`
	StoreAddress  string          `json:"store_address"`
	Date          *time.Time      `json:"date"`
	Total         decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	PDFPath       string          `json:"pdf_path,omitempty"`
	PDFHash       string          `json:"pdf_hash,omitempty"`
	Items         []Item          `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Item is one purchased line of a receipt
type Item struct {
	ID          int64           `json:"id"`
	ReceiptID   int64           `json:"receipt_id"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	TaxCategory string          `json:"tax_category"`
	Category    string          `json:"category"`
}

// DedupPolicy selects how InsertReceipt recognizes an already stored receipt.
type DedupPolicy int

const (
	// DedupNone always inserts.
	DedupNone DedupPolicy = iota
	// DedupByHash rejects a receipt whose PDF hash is already stored.
	DedupByHash
	// DedupByStoreDateTotal rejects a receipt with the same store, date and
	// total as a stored one. Undated receipts are always inserted.
	DedupByStoreDateTotal
)

func (p DedupPolicy) String() string {
	switch p {
	case DedupByHash:
		return "hash"
	case DedupByStoreDateTotal:
		return "store-date-total"
	}
	return "none"
}

// InsertResult reports the outcome of InsertReceipt. A duplicate is a normal
// outcome, not an error.
type InsertResult struct {
	ID         int64 `json:"id,omitempty"`
	Duplicate  bool  `json:"duplicate"`
	ExistingID int64 `json:"existing_id,omitempty"`
}

// Filter narrows receipt queries. Zero values match everything.
type Filter struct {
	// Store is a case-insensitive substring of the store name.
	Store string
	// From is inclusive.
	From *time.Time
	// To is inclusive through the end of that day.
	To *time.Time
}

// Matches applies the filter to one receipt. A receipt without a date never
// matches a date bound.
func (f Filter) Matches(r *Receipt) bool {
	if f.Store != "" && !strings.Contains(strings.ToLower(r.StoreName), strings.ToLower(f.Store)) {
		return false
	}
	if f.From == nil && f.To == nil {
		return true
	}
	if r.Date == nil {
		return false
	}
	if f.From != nil && r.Date.Before(startOfDay(*f.From)) {
		return false
	}
	if f.To != nil && !r.Date.Before(endOfDay(*f.To)) {
		return false
	}
	return true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// endOfDay is the first instant after the day of t.
func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

// CategoryTotal is the spend summary of one category.
type CategoryTotal struct {
	Category   string          `json:"category"`
	Count      int             `json:"count"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
}

// PricePoint is one observed unit price of an item.
type PricePoint struct {
	ItemName  string          `json:"item_name"`
	Price     decimal.Decimal `json:"price"`
	Date      *time.Time      `json:"date"`
	StoreName string          `json:"store_name"`
}

// ItemSummary is one search hit.
type ItemSummary struct {
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	PurchaseCount int             `json:"purchase_count"`
}

// CategoryItem is one purchase listed under a category.
type CategoryItem struct {
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Date      *time.Time      `json:"date"`
	StoreName string          `json:"store_name"`
}

// Dashboard is the headline summary over all receipts.
type Dashboard struct {
	TotalSpent    decimal.Decimal `json:"total_spent"`
	TotalReceipts int             `json:"total_receipts"`
	TotalItems    int             `json:"total_items"`
}

// isSpend reports whether an item counts towards spending statistics.
func isSpend(it Item) bool {
	return it.Category != classify.CategorySystem
}
