package compliance

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"scan-comply/pkg/models"
	"scan-comply/pkg/services/entity"
	"scan-comply/pkg/services/extraction"
)

// Finding codes. They are stable and safe to match on.
const (
	CodeMissingInvoiceNumber   = "MISSING_INVOICE_NUMBER"
	CodeMissingInvoiceDate     = "MISSING_INVOICE_DATE"
	CodeMissingCustomer        = "MISSING_CUSTOMER"
	CodeMissingVendorName      = "MISSING_VENDOR_NAME"
	CodeMissingLineItems       = "MISSING_LINE_ITEMS"
	CodeMissingCurrency        = "MISSING_CURRENCY"
	CodeNonISODate             = "NON_ISO_DATE"
	CodeDueBeforeInvoiceDate   = "DUE_DATE_BEFORE_INVOICE_DATE"
	CodeMissingTotal           = "MISSING_TOTAL_AMOUNT"
	CodeMissingSubtotal        = "MISSING_SUBTOTAL"
	CodeMissingTaxAmount       = "MISSING_TAX_AMOUNT"
	CodeTotalMismatch          = "TOTAL_MISMATCH"
	CodeSubtotalMismatch       = "SUBTOTAL_MISMATCH"
	CodeLineAmountMismatch     = "LINE_AMOUNT_MISMATCH"
	CodeMissingTaxCategory     = "MISSING_TAX_CATEGORY"
	CodeGSTRateMismatch        = "GST_RATE_MISMATCH"
	CodeMissingGSTNumber       = "MISSING_GST_NUMBER"
	CodeInvalidGSTNumber       = "INVALID_GST_NUMBER"
	CodeInvalidVendorUEN       = "INVALID_VENDOR_UEN"
	CodeVendorNotFound         = "VENDOR_NOT_FOUND"
	CodeVendorNotLive          = "VENDOR_NOT_LIVE"
	CodeVendorNotGSTRegistered = "VENDOR_NOT_GST_REGISTERED"
	CodeVendorNameFromRegistry = "VENDOR_NAME_FROM_REGISTRY"
	CodeInvalidCustomerUEN     = "INVALID_CUSTOMER_UEN"
	CodeCustomerNotFound       = "CUSTOMER_NOT_FOUND"
)

const (
	DefaultCurrency     = "SGD"
	TaxCategoryStandard = "SR"
	TaxCategoryZero     = "ZR"
)

var (
	// Tolerance is the largest rounding difference accepted between
	// amounts that should agree.
	Tolerance = decimal.New(1, -2)
	// StandardGSTRate is the current standard rate.
	StandardGSTRate = decimal.New(9, -2)

	gstNumberPattern = regexp.MustCompile(`^M[A-Z0-9]\d{7}[A-Z0-9]$`)
)

func lineField(i int, name string) string {
	return fmt.Sprintf("%s[%d].%s", extraction.FieldLineItems, i, name)
}

func dec(p *float64) decimal.Decimal {
	return decimal.NewFromFloat(*p)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func agree(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// expectedAmount is quantity times unit price when that disagrees with the
// stated amount, else the stated amount.
func expectedAmount(li models.LineItem) (decimal.Decimal, bool) {
	stated := decimal.NewFromFloat(li.Amount)
	want := decimal.NewFromFloat(li.Quantity).Mul(decimal.NewFromFloat(li.UnitPrice)).Round(2)
	if agree(want, stated) {
		return stated, true
	}
	return want, false
}

// lineTotal sums line amounts as they stand after line corrections, so
// subtotal fixes agree with line fixes.
func lineTotal(items []models.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		amount, _ := expectedAmount(li)
		sum = sum.Add(amount)
	}
	return sum
}

func taxCharged(inv models.ExtractedInvoice) bool {
	return inv.TaxAmount != nil && *inv.TaxAmount > 0
}

func checkRequired(c *checker, inv models.ExtractedInvoice) {
	c.check("invoice_number", func() bool {
		if inv.InvoiceNumber == "" {
			return c.fail(string(extraction.FieldInvoiceNumber), CodeMissingInvoiceNumber, "invoice number is required")
		}
		return true
	})
	c.check("invoice_date", func() bool {
		if inv.InvoiceDate == "" {
			return c.fail(string(extraction.FieldInvoiceDate), CodeMissingInvoiceDate, "invoice date is required")
		}
		return true
	})
	c.check("customer", func() bool {
		if inv.CustomerName == "" && inv.CustomerUEN == "" {
			return c.fail(string(extraction.FieldCustomerName), CodeMissingCustomer, "customer name or identifier is required")
		}
		return true
	})
	c.check("vendor_name", func() bool {
		if inv.VendorName == "" {
			return c.fail(string(extraction.FieldVendorName), CodeMissingVendorName, "supplier name is required")
		}
		return true
	})
	c.check("line_items", func() bool {
		if len(inv.LineItems) == 0 {
			return c.fail(string(extraction.FieldLineItems), CodeMissingLineItems, "at least one line item is required")
		}
		return true
	})
	c.check("currency", func() bool {
		if inv.Currency == "" {
			c.suggest(models.Suggestion{
				Code:             CodeMissingCurrency,
				Field:            string(extraction.FieldCurrency),
				Message:          "set the currency to " + DefaultCurrency,
				AutoFixAvailable: true,
				Value:            DefaultCurrency,
			})
			return c.warn(string(extraction.FieldCurrency), CodeMissingCurrency, "currency is not stated")
		}
		return true
	})
}

func checkDates(c *checker, inv models.ExtractedInvoice) {
	dateFormat := func(field extraction.Field, raw string) func() bool {
		return func() bool {
			if extraction.IsISODate(raw) {
				return true
			}
			if parsed := extraction.ParseDate(raw); extraction.IsISODate(parsed) {
				c.suggest(models.Suggestion{
					Code:             CodeNonISODate,
					Field:            string(field),
					Message:          fmt.Sprintf("rewrite %q as %s", raw, parsed),
					AutoFixAvailable: true,
					Value:            parsed,
				})
			}
			return c.warn(string(field), CodeNonISODate, fmt.Sprintf("date %q is not in YYYY-MM-DD form", raw))
		}
	}
	if inv.InvoiceDate != "" {
		c.check("invoice_date_format", dateFormat(extraction.FieldInvoiceDate, inv.InvoiceDate))
	}
	if inv.DueDate != "" {
		c.check("due_date_format", dateFormat(extraction.FieldDueDate, inv.DueDate))
	}

	issued, ok1 := isoDate(inv.InvoiceDate)
	due, ok2 := isoDate(inv.DueDate)
	if ok1 && ok2 {
		c.check("due_date_order", func() bool {
			if due.Before(issued) {
				return c.warn(string(extraction.FieldDueDate), CodeDueBeforeInvoiceDate, "due date is earlier than the invoice date")
			}
			return true
		})
	}
}

func isoDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", extraction.ParseDate(raw))
	return t, err == nil
}

func checkAmounts(c *checker, inv models.ExtractedInvoice) {
	sub, tax, total := inv.Subtotal, inv.TaxAmount, inv.TotalAmount

	c.check("total_present", func() bool {
		if total != nil {
			return true
		}
		s := models.Suggestion{
			Code:    CodeMissingTotal,
			Field:   string(extraction.FieldTotalAmount),
			Message: "total amount is missing",
		}
		if sub != nil && tax != nil {
			s.AutoFixAvailable = true
			s.Value = money(dec(sub).Add(dec(tax)))
			s.Message = "set the total to subtotal plus tax"
		}
		c.suggest(s)
		return c.warn(string(extraction.FieldTotalAmount), CodeMissingTotal, "total amount is missing")
	})

	if sub == nil {
		s := models.Suggestion{Code: CodeMissingSubtotal, Field: string(extraction.FieldSubtotal), Message: "subtotal is missing"}
		switch {
		case total != nil && tax != nil:
			s.AutoFixAvailable = true
			s.Value = money(dec(total).Sub(dec(tax)))
			s.Message = "set the subtotal to total minus tax"
		case len(inv.LineItems) > 0:
			s.AutoFixAvailable = true
			s.Value = money(lineTotal(inv.LineItems))
			s.Message = "set the subtotal to the sum of line amounts"
		}
		c.suggest(s)
	}
	if tax == nil {
		s := models.Suggestion{Code: CodeMissingTaxAmount, Field: string(extraction.FieldTaxAmount), Message: "tax amount is missing"}
		if total != nil && sub != nil {
			s.AutoFixAvailable = true
			s.Value = money(dec(total).Sub(dec(sub)))
			s.Message = "set the tax to total minus subtotal"
		}
		c.suggest(s)
	}

	if sub != nil && tax != nil && total != nil {
		c.check("total_arithmetic", func() bool {
			want := dec(sub).Add(dec(tax))
			if agree(want, dec(total)) {
				return true
			}
			c.suggest(models.Suggestion{
				Code:             CodeTotalMismatch,
				Field:            string(extraction.FieldTotalAmount),
				Message:          "set the total to subtotal plus tax",
				AutoFixAvailable: true,
				Value:            money(want),
			})
			return c.fail(string(extraction.FieldTotalAmount), CodeTotalMismatch,
				fmt.Sprintf("total %s does not equal subtotal %s plus tax %s", money(dec(total)), money(dec(sub)), money(dec(tax))))
		})
	}

	if sub != nil && len(inv.LineItems) > 0 {
		c.check("subtotal_lines", func() bool {
			sum := lineTotal(inv.LineItems)
			if agree(sum, dec(sub)) {
				return true
			}
			c.suggest(models.Suggestion{
				Code:             CodeSubtotalMismatch,
				Field:            string(extraction.FieldSubtotal),
				Message:          "set the subtotal to the sum of line amounts",
				AutoFixAvailable: true,
				Value:            money(sum),
			})
			return c.warn(string(extraction.FieldSubtotal), CodeSubtotalMismatch,
				fmt.Sprintf("subtotal %s does not equal the line amounts %s", money(dec(sub)), money(sum)))
		})
	}

	if sub != nil && taxCharged(inv) {
		c.check("gst_rate", func() bool {
			want := dec(sub).Mul(StandardGSTRate).Round(2)
			if agree(want, dec(tax)) {
				return true
			}
			return c.warn(string(extraction.FieldTaxAmount), CodeGSTRateMismatch,
				fmt.Sprintf("tax %s is not %s%% of subtotal (expected %s)", money(dec(tax)), StandardGSTRate.Shift(2).String(), money(want)))
		})
	}
}

func checkLineItems(c *checker, inv models.ExtractedInvoice) {
	if len(inv.LineItems) == 0 {
		return
	}
	c.check("line_amounts", func() bool {
		ok := true
		for i, li := range inv.LineItems {
			want, consistent := expectedAmount(li)
			if consistent {
				continue
			}
			field := lineField(i, "amount")
			c.suggest(models.Suggestion{
				Code:             CodeLineAmountMismatch,
				Field:            field,
				Message:          "set the amount to quantity times unit price",
				AutoFixAvailable: true,
				Value:            money(want),
			})
			ok = c.fail(field, CodeLineAmountMismatch,
				fmt.Sprintf("line %d amount %.2f does not equal %v x %.2f", i+1, li.Amount, li.Quantity, li.UnitPrice))
		}
		return ok
	})

	for i, li := range inv.LineItems {
		if li.TaxCategory != "" {
			continue
		}
		s := models.Suggestion{
			Code:    CodeMissingTaxCategory,
			Field:   lineField(i, "taxCategory"),
			Message: fmt.Sprintf("line %d has no tax category", i+1),
		}
		if inv.TaxAmount != nil {
			s.AutoFixAvailable = true
			s.Value = TaxCategoryZero
			if taxCharged(inv) {
				s.Value = TaxCategoryStandard
			}
		}
		c.suggest(s)
	}
}

// ValidGSTNumber reports whether n is a GST registration number: the
// M-prefixed form or a business identifier.
func ValidGSTNumber(n string) bool {
	norm := entity.Normalize(n)
	return gstNumberPattern.MatchString(norm) || entity.IsValidFormat(norm)
}

func checkTaxRegistration(c *checker, inv models.ExtractedInvoice) {
	if inv.VendorGSTNumber == "" && !taxCharged(inv) {
		return
	}
	c.check("gst_registration_number", func() bool {
		field := string(extraction.FieldVendorGST)
		if inv.VendorGSTNumber == "" {
			return c.warn(field, CodeMissingGSTNumber, "GST is charged but no GST registration number is shown")
		}
		if !ValidGSTNumber(inv.VendorGSTNumber) {
			return c.fail(field, CodeInvalidGSTNumber, fmt.Sprintf("%q is not a valid GST registration number", inv.VendorGSTNumber))
		}
		return true
	})
}

func checkVendor(c *checker, inv models.ExtractedInvoice, vendor *models.EntityVerification) {
	if vendor == nil {
		return
	}
	field := string(extraction.FieldVendorUEN)
	c.check("vendor_uen", func() bool {
		switch {
		case !vendor.IsValid:
			return c.fail(field, CodeInvalidVendorUEN, fmt.Sprintf("supplier UEN %q is not a valid identifier", inv.VendorUEN))
		case !vendor.Exists:
			msg := fmt.Sprintf("supplier UEN %s could not be found", vendor.UEN)
			if vendor.Error != "" {
				msg += ": " + vendor.Error
			}
			return c.warn(field, CodeVendorNotFound, msg)
		case vendor.Status != "" && vendor.Status != "Live" && vendor.Status != "Unknown":
			return c.warn(field, CodeVendorNotLive, fmt.Sprintf("supplier %s has registry status %q", vendor.UEN, vendor.Status))
		}
		return true
	})

	if !vendor.Exists {
		return
	}
	if vendorNameDiffers(inv.VendorName, vendor) {
		msg := "use the registered name " + vendor.EntityName
		if inv.VendorName != "" {
			msg = fmt.Sprintf("stated supplier name %q differs from the registered name %s", inv.VendorName, vendor.EntityName)
		}
		c.suggest(models.Suggestion{
			Code:             CodeVendorNameFromRegistry,
			Field:            string(extraction.FieldVendorName),
			Message:          msg,
			AutoFixAvailable: true,
			Value:            vendor.EntityName,
		})
	}
	// Last-resort sources know the name only, not the GST status.
	if taxCharged(inv) && vendor.Status != "Unknown" {
		c.check("vendor_gst_registered", func() bool {
			if !vendor.GSTRegistered {
				return c.fail(string(extraction.FieldTaxAmount), CodeVendorNotGSTRegistered,
					fmt.Sprintf("supplier %s is not GST registered but charges GST", vendor.UEN))
			}
			return true
		})
	}
}

// vendorNameDiffers compares names ignoring case, spacing and punctuation.
// Names from last-resort sources are not authoritative and never override a
// stated name.
func vendorNameDiffers(stated string, vendor *models.EntityVerification) bool {
	if vendor.EntityName == "" {
		return false
	}
	if stated == "" {
		return true
	}
	if vendor.Status == "Unknown" {
		return false
	}
	return entity.Normalize(stated) != entity.Normalize(vendor.EntityName)
}

func checkCustomer(c *checker, customer *models.EntityVerification) {
	if customer == nil {
		return
	}
	c.check("customer_uen", func() bool {
		field := string(extraction.FieldCustomerUEN)
		switch {
		case !customer.IsValid:
			return c.warn(field, CodeInvalidCustomerUEN, fmt.Sprintf("customer UEN %q is not a valid identifier", customer.UEN))
		case !customer.Exists:
			return c.warn(field, CodeCustomerNotFound, fmt.Sprintf("customer UEN %s could not be found", customer.UEN))
		}
		return true
	})
}
