package models

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Status is the lifecycle state of a persisted invoice.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusProcessing Status = "processing"
	StatusSubmitted  Status = "submitted"
	StatusFailed     Status = "failed"
	StatusDelivered  Status = "delivered"
)

// ErrInvalidTransition is returned when a status change skips the lifecycle.
var ErrInvalidTransition = errors.New("invalid invoice status transition")

var transitions = map[Status][]Status{
	StatusDraft:      {StatusProcessing},
	StatusProcessing: {StatusSubmitted, StatusFailed},
	StatusSubmitted:  {StatusDelivered},
	// a failed invoice may be re-queued
	StatusFailed: {StatusProcessing},
}

// CanTransition reports whether from -> to is an allowed lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both states when
// from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Invoice represents an invoice document with extracted information
type Invoice struct {
	gorm.Model
	FileName         string
	Status           Status `gorm:"index;default:draft"`
	InvoiceNumber    string
	Date             string
	DueDate          string
	Currency         string
	CustomerName     string
	CustomerUEN      string `gorm:"index"`
	VendorName       string
	VendorUEN        string `gorm:"index"`
	VendorGSTNumber  string
	Subtotal         *float64
	TaxAmount        *float64
	TotalAmount      *float64
	LineItems        []LineItemRecord `gorm:"constraint:OnDelete:CASCADE"`
	Provider         string
	Confidence       float64
	ComplianceScore  float64
	Compliant        bool
	ProcessingTimeMs int64
	LastError        string
}

// LineItemRecord is the persisted form of a LineItem.
type LineItemRecord struct {
	gorm.Model
	InvoiceID   uint `gorm:"index"`
	Position    int
	Description string
	Quantity    float64
	UnitPrice   float64
	Amount      float64
	TaxCategory string
}

// ToExtracted converts a stored record back into the structured invoice shape.
func (inv *Invoice) ToExtracted() ExtractedInvoice {
	out := ExtractedInvoice{
		InvoiceNumber:   inv.InvoiceNumber,
		InvoiceDate:     inv.Date,
		DueDate:         inv.DueDate,
		Currency:        inv.Currency,
		CustomerName:    inv.CustomerName,
		CustomerUEN:     inv.CustomerUEN,
		VendorName:      inv.VendorName,
		VendorUEN:       inv.VendorUEN,
		VendorGSTNumber: inv.VendorGSTNumber,
		Subtotal:        inv.Subtotal,
		TaxAmount:       inv.TaxAmount,
		TotalAmount:     inv.TotalAmount,
	}
	for _, li := range inv.LineItems {
		out.LineItems = append(out.LineItems, LineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Amount:      li.Amount,
			TaxCategory: li.TaxCategory,
		})
	}
	return out
}

// ApplyExtracted copies the recovered fields onto the record, replacing any
// previous line items.
func (inv *Invoice) ApplyExtracted(ex ExtractedInvoice) {
	inv.InvoiceNumber = ex.InvoiceNumber
	inv.Date = ex.InvoiceDate
	inv.DueDate = ex.DueDate
	inv.Currency = ex.Currency
	inv.CustomerName = ex.CustomerName
	inv.CustomerUEN = ex.CustomerUEN
	inv.VendorName = ex.VendorName
	inv.VendorUEN = ex.VendorUEN
	inv.VendorGSTNumber = ex.VendorGSTNumber
	inv.Subtotal = ex.Subtotal
	inv.TaxAmount = ex.TaxAmount
	inv.TotalAmount = ex.TotalAmount
	inv.LineItems = make([]LineItemRecord, 0, len(ex.LineItems))
	for i, li := range ex.LineItems {
		inv.LineItems = append(inv.LineItems, LineItemRecord{
			Position:    i,
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Amount:      li.Amount,
			TaxCategory: li.TaxCategory,
		})
	}
}
