package compliance

import (
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"scan-comply/pkg/models"
	"scan-comply/pkg/services/extraction"
)

var lineFieldPattern = regexp.MustCompile(`^lineItems\[(\d+)\]\.(amount|taxCategory)$`)

// AutoFix returns a copy of inv with every auto-fixable suggestion in result
// applied, in order. Suggestions without a fix, or addressing a field that
// no longer exists, are skipped. inv itself is left untouched.
func AutoFix(inv models.ExtractedInvoice, result models.ValidationResult) models.ExtractedInvoice {
	out := inv.Clone()
	for _, s := range result.Suggestions {
		if s.AutoFixAvailable {
			applyFix(&out, s)
		}
	}
	return out
}

func applyFix(inv *models.ExtractedInvoice, s models.Suggestion) bool {
	switch extraction.Field(s.Field) {
	case extraction.FieldCurrency:
		inv.Currency = s.Value
	case extraction.FieldInvoiceDate:
		inv.InvoiceDate = s.Value
	case extraction.FieldDueDate:
		inv.DueDate = s.Value
	case extraction.FieldVendorName:
		inv.VendorName = s.Value
	case extraction.FieldSubtotal:
		return setAmount(&inv.Subtotal, s.Value)
	case extraction.FieldTaxAmount:
		return setAmount(&inv.TaxAmount, s.Value)
	case extraction.FieldTotalAmount:
		return setAmount(&inv.TotalAmount, s.Value)
	default:
		return applyLineFix(inv, s)
	}
	return true
}

func applyLineFix(inv *models.ExtractedInvoice, s models.Suggestion) bool {
	m := lineFieldPattern.FindStringSubmatch(s.Field)
	if m == nil {
		return false
	}
	i, err := strconv.Atoi(m[1])
	if err != nil || i >= len(inv.LineItems) {
		return false
	}
	switch m[2] {
	case "amount":
		d, err := decimal.NewFromString(s.Value)
		if err != nil {
			return false
		}
		inv.LineItems[i].Amount, _ = d.Float64()
	case "taxCategory":
		inv.LineItems[i].TaxCategory = s.Value
	}
	return true
}

func setAmount(dst **float64, value string) bool {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return false
	}
	f, _ := d.Float64()
	*dst = &f
	return true
}
