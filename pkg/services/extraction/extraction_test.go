package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scan-comply/pkg/models"
	"scan-comply/pkg/services/analyzer"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		field  Field
		want   string
		found  bool
	}{
		{"exact alias", map[string]string{"inv no": "A-1", "invoice reference no": "B-2"}, FieldInvoiceNumber, "A-1", true},
		{"alias order wins", map[string]string{"invoice #": "X", "invoice number": "Y"}, FieldInvoiceNumber, "Y", true},
		{"substring fallback", map[string]string{"tax invoice number (original)": "T-9"}, FieldInvoiceNumber, "T-9", true},
		{"empty value skipped", map[string]string{"invoice number": " ", "invoice no": "Z"}, FieldInvoiceNumber, "Z", true},
		{"subtotal is not total", map[string]string{"subtotal amount": "100"}, FieldTotalAmount, "", false},
		{"gst reg no is not tax", map[string]string{"gst reg no.": "M90312345X"}, FieldTaxAmount, "", false},
		{"sub-total is not total", map[string]string{"sub-total": "100"}, FieldTotalAmount, "", false},
		{"exclusions match whole words", map[string]string{"supplier (registered name)": "Acme Pte Ltd"}, FieldVendorName, "Acme Pte Ltd", true},
		{"vendor reg no is not a name", map[string]string{"supplier reg. no": "201912345A"}, FieldVendorName, "", false},
		{"vendor registration is not a name", map[string]string{"supplier registration": "201912345A"}, FieldVendorName, "", false},
		{"missing", map[string]string{"foo": "bar"}, FieldDueDate, "", false},
		{"unknown field", map[string]string{"foo": "bar"}, Field("nope"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(tt.fields, tt.field)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := map[string]string{
		"15 Jan 2024":        "2024-01-15",
		"3rd March, 2023":    "2023-03-03",
		"15/01/2024":         "2024-01-15",
		"5-1-2024":           "2024-01-05",
		"2024-01-15":         "2024-01-15",
		"Issued on 2024-2-9": "2024-02-09",
		"31/02/2024":         "31/02/2024",
		"sometime next week": "sometime next week",
		"  12 Smarch 2024 ":  "12 Smarch 2024",
		"29 February 2024":   "2024-02-29",
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseDate(in), in)
	}
	assert.True(t, IsISODate("2024-01-15"))
	assert.False(t, IsISODate("15/01/2024"))
}

func TestParseAmount(t *testing.T) {
	got := ParseAmount("$1,234.56")
	require.NotNil(t, got)
	assert.InDelta(t, 1234.56, *got, 1e-9)

	assert.Nil(t, ParseAmount("n/a"))
	assert.Nil(t, ParseAmount("-"))
	assert.Nil(t, ParseAmount("1.2.3"))

	zero := ParseAmount("SGD 0.00")
	require.NotNil(t, zero, "zero is a value, not an absence")
	assert.Zero(t, *zero)

	neg := ParseAmount("-15.50")
	require.NotNil(t, neg)
	assert.InDelta(t, -15.5, *neg, 1e-9)
}

func TestParseIdentifier(t *testing.T) {
	assert.Equal(t, "201912345A", ParseIdentifier("UEN: 201912345A"))
	assert.Equal(t, "53312345D", ParseIdentifier(" 53312345D "))
	assert.Equal(t, "T08LL1234A", ParseIdentifier("T08LL1234A"))
}

func TestParseCurrency(t *testing.T) {
	assert.Equal(t, "SGD", ParseCurrency("S$1,000"))
	assert.Equal(t, "USD", ParseCurrency("usd 20"))
	assert.Empty(t, ParseCurrency("1,000"))
}

func TestLineItems(t *testing.T) {
	t.Run("single row", func(t *testing.T) {
		items := LineItems([]analyzer.Table{{
			{"Description", "Qty", "Unit Price", "Amount"},
			{"Widget A", "2", "10.00", "20.00"},
		}})
		require.Len(t, items, 1)
		assert.Equal(t, models.LineItem{Description: "Widget A", Quantity: 2, UnitPrice: 10, Amount: 20}, items[0])
	})

	t.Run("drops rows without description or positive amount", func(t *testing.T) {
		items := LineItems([]analyzer.Table{{
			{"Item", "Qty", "Rate", "Amount"},
			{"", "1", "5.00", "5.00"},
			{"Discount", "1", "0", "0.00"},
			{"Refund", "1", "-5", "-5.00"},
			{"Service fee", "", "", "n/a"},
			{"Consulting", "3", "100", ""},
			{"Setup", "", "", "$50.00"},
		}})
		require.Len(t, items, 2)
		assert.Equal(t, models.LineItem{Description: "Consulting", Quantity: 3, UnitPrice: 100, Amount: 300}, items[0])
		assert.Equal(t, models.LineItem{Description: "Setup", Quantity: 1, UnitPrice: 50, Amount: 50}, items[1])
		for _, it := range items {
			assert.NotEmpty(t, it.Description)
			assert.Positive(t, it.Amount)
		}
	})

	t.Run("first matching table only", func(t *testing.T) {
		items := LineItems([]analyzer.Table{
			{{"Bank", "Account"}, {"DBS", "123"}},
			{{"Particulars", "Total"}, {"Audit", "1,000.00"}},
			{{"Description", "Amount"}, {"Other", "9.00"}},
		})
		require.Len(t, items, 1)
		assert.Equal(t, "Audit", items[0].Description)
		assert.Equal(t, 1000.0, items[0].Amount)
		assert.Equal(t, 1.0, items[0].Quantity)
	})

	t.Run("positional defaults", func(t *testing.T) {
		items := LineItems([]analyzer.Table{{
			{"Description", "", "", "Amount"},
			{"Thing", "4", "2.50", "10.00"},
		}})
		require.Len(t, items, 1)
		assert.Equal(t, models.LineItem{Description: "Thing", Quantity: 4, UnitPrice: 2.5, Amount: 10}, items[0])
	})

	t.Run("no item table", func(t *testing.T) {
		assert.Empty(t, LineItems([]analyzer.Table{{{"a", "b"}, {"c", "d"}}}))
	})
}

func TestRecover(t *testing.T) {
	a := analyzer.Analysis{
		Fields: map[string]string{
			"invoice no":   "INV-1001",
			"invoice date": "15 Jan 2024",
			"due date":     "14/02/2024",
			"uen":          "UEN 201912345A",
			"supplier":     "Widgets Pte Ltd",
			"gst reg no":   "m90312345x",
			"subtotal":     "$100.00",
			"gst":          "$9.00",
			"total":        "SGD 109.00",
		},
		Tables: []analyzer.Table{{
			{"Description", "Qty", "Unit Price", "Amount"},
			{"Widget A", "2", "50.00", "100.00"},
		}},
		Lines: []string{"Widgets Pte Ltd", "Bill To:", "Acme Holdings", "Thank you"},
	}

	inv := Recover(a)

	assert.Equal(t, "INV-1001", inv.InvoiceNumber)
	assert.Equal(t, "2024-01-15", inv.InvoiceDate)
	assert.Equal(t, "2024-02-14", inv.DueDate)
	assert.Equal(t, "201912345A", inv.VendorUEN)
	assert.Equal(t, "Widgets Pte Ltd", inv.VendorName)
	assert.Equal(t, "M90312345X", inv.VendorGSTNumber)
	assert.Equal(t, "Acme Holdings", inv.CustomerName)
	assert.Equal(t, "SGD", inv.Currency)
	require.NotNil(t, inv.TotalAmount)
	assert.Equal(t, 109.0, *inv.TotalAmount)
	assert.Equal(t, 9.0, *inv.TaxAmount)
	assert.Equal(t, 100.0, *inv.Subtotal)
	assert.Len(t, inv.LineItems, 1)
	assert.Empty(t, MissingFields(inv))
	assert.Equal(t, 1.0, Coverage(inv))
}

func TestRecover_Empty(t *testing.T) {
	inv := Recover(analyzer.Analysis{})
	assert.Equal(t, models.ExtractedInvoice{}, inv)
	assert.Len(t, MissingFields(inv), len(ExpectedFields))
	assert.Zero(t, Coverage(inv))
}

func TestWithTemplateFields(t *testing.T) {
	a := analyzer.Analysis{
		Fields: map[string]string{"invoice no": "KV-1"},
		Lines: []string{
			"Invoice No: LINE-1",
			"Invoice Date: 2 Feb 2024",
			"Total: $55.00",
			"no separator here",
			": orphan value",
		},
	}
	out := WithTemplateFields(a)

	assert.Equal(t, "KV-1", out.Fields["invoice no"])
	assert.Equal(t, "2 Feb 2024", out.Fields["invoice date"])
	assert.Equal(t, "$55.00", out.Fields["total"])
	assert.Len(t, a.Fields, 1, "input is not modified")

	inv := Recover(out)
	assert.Equal(t, "2024-02-02", inv.InvoiceDate)
	require.NotNil(t, inv.TotalAmount)
	assert.Equal(t, 55.0, *inv.TotalAmount)
}
