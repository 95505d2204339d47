package models

// ExtractedInvoice is the structured record recovered from a document or
// entered by hand. Every field is best-effort: empty strings and nil amounts
// mean "not found", which is different from a zero amount.
type ExtractedInvoice struct {
	InvoiceNumber   string     `json:"invoiceNumber,omitempty"`
	InvoiceDate     string     `json:"invoiceDate,omitempty"`
	DueDate         string     `json:"dueDate,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	CustomerName    string     `json:"customerName,omitempty"`
	CustomerUEN     string     `json:"customerUen,omitempty"`
	VendorName      string     `json:"vendorName,omitempty"`
	VendorUEN       string     `json:"vendorUen,omitempty"`
	VendorGSTNumber string     `json:"vendorGstNumber,omitempty"`
	Subtotal        *float64   `json:"subtotal,omitempty"`
	TaxAmount       *float64   `json:"taxAmount,omitempty"`
	TotalAmount     *float64   `json:"totalAmount,omitempty"`
	LineItems       []LineItem `json:"lineItems"`
}

// LineItem is one billed row of an invoice.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Amount      float64 `json:"amount"`
	TaxCategory string  `json:"taxCategory,omitempty"`
}

// Clone returns a deep copy so callers can revise an invoice without touching
// the original.
func (e ExtractedInvoice) Clone() ExtractedInvoice {
	out := e
	out.Subtotal = clonePtr(e.Subtotal)
	out.TaxAmount = clonePtr(e.TaxAmount)
	out.TotalAmount = clonePtr(e.TotalAmount)
	if e.LineItems != nil {
		out.LineItems = make([]LineItem, len(e.LineItems))
		copy(out.LineItems, e.LineItems)
	}
	return out
}

// Float returns a pointer to v, for optional amount fields.
func Float(v float64) *float64 { return &v }

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
