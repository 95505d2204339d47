package extraction

import (
	"strings"

	"github.com/shopspring/decimal"

	"scan-comply/pkg/models"
	"scan-comply/pkg/services/analyzer"
)

var (
	descriptionHeaders = []string{"description", "item", "particulars", "product", "service", "details"}
	quantityHeaders    = []string{"qty", "quantity", "units", "hrs", "hours"}
	unitPriceHeaders   = []string{"unit price", "price", "rate", "unit cost"}
	amountHeaders      = []string{"amount", "total", "line total"}
)

type columns struct {
	description, quantity, unitPrice, amount int
}

// LineItems recovers items from the first table whose header looks like an
// item list. Rows without a description or with a non-positive amount are
// dropped.
func LineItems(tables []analyzer.Table) []models.LineItem {
	for _, t := range tables {
		if len(t) < 2 || !isItemHeader(t[0]) {
			continue
		}
		cols := locateColumns(t[0])
		var items []models.LineItem
		for _, row := range t[1:] {
			if item, ok := rowItem(row, cols); ok {
				items = append(items, item)
			}
		}
		return items
	}
	return nil
}

func isItemHeader(header []string) bool {
	for _, h := range header {
		h = strings.ToLower(h)
		if containsAny(h, descriptionHeaders) || containsAny(h, amountHeaders) {
			return true
		}
	}
	return false
}

func locateColumns(header []string) columns {
	cols := columns{description: -1, quantity: -1, unitPrice: -1, amount: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case cols.description < 0 && containsAny(h, descriptionHeaders):
			cols.description = i
		case cols.quantity < 0 && containsAny(h, quantityHeaders):
			cols.quantity = i
		case cols.unitPrice < 0 && containsAny(h, unitPriceHeaders):
			cols.unitPrice = i
		case cols.amount < 0 && containsAny(h, amountHeaders):
			cols.amount = i
		}
	}

	used := map[int]bool{}
	for _, idx := range []int{cols.description, cols.quantity, cols.unitPrice, cols.amount} {
		if idx >= 0 {
			used[idx] = true
		}
	}
	fallback := func(current *int, pos int) {
		if *current >= 0 || pos < 0 || pos >= len(header) || used[pos] {
			return
		}
		*current = pos
		used[pos] = true
	}
	fallback(&cols.description, 0)
	fallback(&cols.amount, len(header)-1)
	fallback(&cols.quantity, 1)
	fallback(&cols.unitPrice, 2)
	return cols
}

func rowItem(row []string, cols columns) (models.LineItem, bool) {
	desc := strings.TrimSpace(cell(row, cols.description))
	if desc == "" {
		return models.LineItem{}, false
	}

	qty, hasQty := ParseDecimal(cell(row, cols.quantity))
	unit, hasUnit := ParseDecimal(cell(row, cols.unitPrice))
	amount, hasAmount := ParseDecimal(cell(row, cols.amount))

	if !hasQty || qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	if !hasAmount && hasUnit {
		amount = qty.Mul(unit).Round(2)
		hasAmount = true
	}
	if !hasAmount || !amount.IsPositive() {
		return models.LineItem{}, false
	}
	if !hasUnit {
		unit = amount.DivRound(qty, 2)
	}

	q, _ := qty.Float64()
	u, _ := unit.Float64()
	a, _ := amount.Float64()
	return models.LineItem{Description: desc, Quantity: q, UnitPrice: u, Amount: a}, true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
