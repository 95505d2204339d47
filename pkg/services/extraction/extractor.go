// Package extraction recovers invoice fields from an analyzed document.
package extraction

import (
	"regexp"
	"strings"

	"scan-comply/pkg/models"
	"scan-comply/pkg/services/analyzer"
)

// ExpectedFields are the fields counted when scoring how much of an invoice
// was recovered.
var ExpectedFields = []Field{
	FieldInvoiceNumber,
	FieldInvoiceDate,
	FieldCustomerName,
	FieldVendorName,
	FieldVendorUEN,
	FieldSubtotal,
	FieldTaxAmount,
	FieldTotalAmount,
	FieldLineItems,
}

// Recover builds an ExtractedInvoice from a. It never fails; fields that
// cannot be found are left empty.
func Recover(a analyzer.Analysis) models.ExtractedInvoice {
	var inv models.ExtractedInvoice
	f := a.Fields

	inv.InvoiceNumber, _ = Lookup(f, FieldInvoiceNumber)
	if v, ok := Lookup(f, FieldInvoiceDate); ok {
		inv.InvoiceDate = ParseDate(v)
	}
	if v, ok := Lookup(f, FieldDueDate); ok {
		inv.DueDate = ParseDate(v)
	}
	inv.CustomerName, _ = Lookup(f, FieldCustomerName)
	if v, ok := Lookup(f, FieldCustomerUEN); ok {
		inv.CustomerUEN = ParseIdentifier(v)
	}
	inv.VendorName, _ = Lookup(f, FieldVendorName)
	if v, ok := Lookup(f, FieldVendorUEN); ok {
		inv.VendorUEN = ParseIdentifier(v)
	}
	if v, ok := Lookup(f, FieldVendorGST); ok {
		inv.VendorGSTNumber = strings.ToUpper(strings.TrimSpace(v))
	}

	var totalRaw string
	if v, ok := Lookup(f, FieldSubtotal); ok {
		inv.Subtotal = ParseAmount(v)
	}
	if v, ok := Lookup(f, FieldTaxAmount); ok {
		inv.TaxAmount = ParseAmount(v)
	}
	if v, ok := Lookup(f, FieldTotalAmount); ok {
		totalRaw = v
		inv.TotalAmount = ParseAmount(v)
	}

	if v, ok := Lookup(f, FieldCurrency); ok {
		inv.Currency = ParseCurrency(v)
	}
	if inv.Currency == "" && totalRaw != "" {
		inv.Currency = ParseCurrency(totalRaw)
	}

	inv.LineItems = LineItems(a.Tables)

	if inv.CustomerName == "" {
		inv.CustomerName = customerFromLines(a.Lines)
	}
	return inv
}

// customerFromLines takes the line right after a "bill to" or "customer"
// heading.
func customerFromLines(lines []string) string {
	for i, line := range lines {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "bill to") && !strings.Contains(lower, "customer") {
			continue
		}
		if i+1 < len(lines) {
			if next := strings.TrimSpace(lines[i+1]); next != "" {
				return next
			}
		}
	}
	return ""
}

// MissingFields lists the expected fields that inv does not carry.
func MissingFields(inv models.ExtractedInvoice) []Field {
	var missing []Field
	for _, f := range ExpectedFields {
		if !present(inv, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Coverage is the share of ExpectedFields present in inv, in [0,1].
func Coverage(inv models.ExtractedInvoice) float64 {
	return float64(len(ExpectedFields)-len(MissingFields(inv))) / float64(len(ExpectedFields))
}

func present(inv models.ExtractedInvoice, f Field) bool {
	switch f {
	case FieldInvoiceNumber:
		return inv.InvoiceNumber != ""
	case FieldInvoiceDate:
		return inv.InvoiceDate != ""
	case FieldDueDate:
		return inv.DueDate != ""
	case FieldCurrency:
		return inv.Currency != ""
	case FieldCustomerName:
		return inv.CustomerName != ""
	case FieldCustomerUEN:
		return inv.CustomerUEN != ""
	case FieldVendorName:
		return inv.VendorName != ""
	case FieldVendorUEN:
		return inv.VendorUEN != ""
	case FieldVendorGST:
		return inv.VendorGSTNumber != ""
	case FieldSubtotal:
		return inv.Subtotal != nil
	case FieldTaxAmount:
		return inv.TaxAmount != nil
	case FieldTotalAmount:
		return inv.TotalAmount != nil
	case FieldLineItems:
		return len(inv.LineItems) > 0
	}
	return false
}

var templateLine = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 .#/()&'-]{0,39}?)\s*:\s*(.+)$`)

// WithTemplateFields returns a copy of a whose Fields also carry
// "Label: value" pairs read off plain text lines. Labels already present
// keep their original value.
func WithTemplateFields(a analyzer.Analysis) analyzer.Analysis {
	fields := make(map[string]string, len(a.Fields))
	for k, v := range a.Fields {
		fields[k] = v
	}
	for _, line := range a.Lines {
		m := templateLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := analyzer.NormalizeLabel(m[1])
		if label == "" {
			continue
		}
		if existing, ok := fields[label]; ok && existing != "" {
			continue
		}
		fields[label] = strings.TrimSpace(m[2])
	}
	out := a
	out.Fields = fields
	return out
}
