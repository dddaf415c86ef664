package receipt

import (
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"
)

const (
	exportSheet     = "Receipts"
	categoriesSheet = "Categories"
)

var exportHeaders = []string{
	"Date",
	"Store",
	"Item",
	"Category",
	"Unit Price",
	"Quantity",
	"Total Price",
	"Receipt Total",
	"Payment Method",
}

// ExportXLSX writes every non-system item of the receipts matching f into an
// XLSX workbook, newest receipts first. A second sheet holds the category
// totals for the same filter.
func (s *Service) ExportXLSX(f Filter) ([]byte, error) {
	receipts, err := s.db.ListReceipts(f, 0)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	totals, err := s.db.CategoryTotals(f)
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}

	x := excelize.NewFile()
	defer x.Close()
	if err := x.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	writeRow := func(sheet string, row int, values ...any) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		return x.SetSheetRow(sheet, cell, &values)
	}

	if err := writeRow(exportSheet, 1, toAny(exportHeaders)...); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	row := 2
	for _, r := range receipts {
		date := ""
		if r.Date != nil {
			date = r.Date.Format("2006-01-02")
		}
		for _, it := range r.Items {
			if !isSpend(it) {
				continue
			}
			err := writeRow(exportSheet, row,
				date,
				r.StoreName,
				it.Name,
				it.Category,
				it.UnitPrice.InexactFloat64(),
				it.Quantity,
				it.TotalPrice.InexactFloat64(),
				r.Total.InexactFloat64(),
				r.PaymentMethod,
			)
			if err != nil {
				return nil, fmt.Errorf("xlsx write: %w", err)
			}
			row++
		}
	}

	if _, err := x.NewSheet(categoriesSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	if err := writeRow(categoriesSheet, 1, "Category", "Count", "Total Spent", "Average Price"); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	for i, t := range totals {
		if err := writeRow(categoriesSheet, i+2, t.Category, t.Count, t.TotalSpent.InexactFloat64(), t.AvgPrice.InexactFloat64()); err != nil {
			return nil, fmt.Errorf("xlsx write: %w", err)
		}
	}

	for _, w := range []struct {
		sheet, from, to string
		width           float64
	}{
		{exportSheet, "A", "A", 12}, // date
		{exportSheet, "B", "D", 28}, // store, item, category
		{exportSheet, "E", "H", 13}, // amounts
		{exportSheet, "I", "I", 18},
		{categoriesSheet, "A", "A", 32},
	} {
		if err := x.SetColWidth(w.sheet, w.from, w.to, w.width); err != nil {
			return nil, fmt.Errorf("xlsx layout: %w", err)
		}
	}

	buf, err := x.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	slog.Info("Export written", "rows", row-2, "categories", len(totals), "bytes", buf.Len())
	return buf.Bytes(), nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
