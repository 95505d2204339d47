package extraction

import (
	"sort"
	"strings"
	"unicode"
)

// Field names a semantic invoice field.
type Field string

const (
	FieldInvoiceNumber Field = "invoiceNumber"
	FieldInvoiceDate   Field = "invoiceDate"
	FieldDueDate       Field = "dueDate"
	FieldCurrency      Field = "currency"
	FieldCustomerName  Field = "customerName"
	FieldCustomerUEN   Field = "customerUen"
	FieldVendorName    Field = "vendorName"
	FieldVendorUEN     Field = "vendorUen"
	FieldVendorGST     Field = "vendorGstNumber"
	FieldSubtotal      Field = "subtotal"
	FieldTaxAmount     Field = "taxAmount"
	FieldTotalAmount   Field = "totalAmount"
	FieldLineItems     Field = "lineItems"
)

// LabelRule lists the labels a field may appear under, most specific first.
// Exclude only applies to the substring tier, where short aliases like
// "total" would otherwise also hit "subtotal". Exclusions match whole words
// of the label, so "reg" rejects "gst reg no" but not "registered name".
type LabelRule struct {
	Aliases []string
	Exclude []string
}

// Labels is the alias table used by Lookup.
var Labels = map[Field]LabelRule{
	FieldInvoiceNumber: {
		Aliases: []string{"invoice number", "invoice no", "inv no", "invoice #", "invoice no.", "inv #", "invoice id", "tax invoice no", "bill number"},
		Exclude: []string{"date"},
	},
	FieldInvoiceDate: {
		Aliases: []string{"invoice date", "date of issue", "issue date", "billing date", "date"},
		Exclude: []string{"due", "delivery"},
	},
	FieldDueDate: {
		Aliases: []string{"due date", "payment due", "due by", "pay by", "payment due date"},
	},
	FieldCurrency: {
		Aliases: []string{"currency", "curr"},
	},
	FieldCustomerName: {
		Aliases: []string{"customer name", "customer", "bill to", "billed to", "sold to", "client", "buyer"},
		Exclude: []string{"uen", "reg", "registration", "gst", "no", "number", "id", "address"},
	},
	FieldCustomerUEN: {
		Aliases: []string{"customer uen", "customer reg no", "customer registration no", "buyer uen", "client uen"},
	},
	FieldVendorName: {
		Aliases: []string{"vendor name", "vendor", "supplier name", "supplier", "seller", "company name", "sold by", "from"},
		Exclude: []string{"uen", "reg", "registration", "gst", "no", "number", "id", "address"},
	},
	FieldVendorUEN: {
		Aliases: []string{"vendor uen", "supplier uen", "uen", "uen no", "company uen", "business registration no", "co reg no", "company reg no", "registration no"},
		Exclude: []string{"customer", "buyer", "client", "gst"},
	},
	FieldVendorGST: {
		Aliases: []string{"gst reg no", "gst registration no", "gst registration number", "gst no", "gst reg. no", "tax registration no"},
	},
	FieldSubtotal: {
		Aliases: []string{"subtotal", "sub total", "sub-total", "total before gst", "total excluding gst", "net amount"},
	},
	FieldTaxAmount: {
		Aliases: []string{"gst amount", "gst", "tax amount", "tax", "vat", "gst 9%"},
		Exclude: []string{"reg", "registration", "no", "total", "incl", "excl", "excluding", "before"},
	},
	FieldTotalAmount: {
		Aliases: []string{"total amount", "grand total", "total", "amount due", "total due", "total payable", "balance due", "total incl gst"},
		Exclude: []string{"sub", "subtotal", "before", "excl", "excluding"},
	},
}

// Lookup finds the value of f in fields, a map of normalized label to value.
// An exact alias match wins; otherwise the first label containing an alias is
// used. Labels are scanned in sorted order so the result is stable.
func Lookup(fields map[string]string, f Field) (string, bool) {
	rule, ok := Labels[f]
	if !ok {
		return "", false
	}
	for _, alias := range rule.Aliases {
		if v, ok := fields[alias]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}

	labels := make([]string, 0, len(fields))
	for label := range fields {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, alias := range rule.Aliases {
		for _, label := range labels {
			if !strings.Contains(label, alias) || excluded(label, rule.Exclude) {
				continue
			}
			if v := strings.TrimSpace(fields[label]); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

func excluded(label string, exclude []string) bool {
	words := " " + strings.Join(strings.FieldsFunc(label, notWordRune), " ") + " "
	for _, ex := range exclude {
		if strings.Contains(words, " "+ex+" ") {
			return true
		}
	}
	return false
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
