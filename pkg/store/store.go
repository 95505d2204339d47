// Package store persists invoice records with gorm.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"scan-comply/pkg/models"
)

// ErrNotFound is returned when no invoice has the requested ID.
var ErrNotFound = errors.New("invoice not found")

// Open connects to Postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the invoice tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Invoice{}, &models.LineItemRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// InvoiceStore reads and writes invoice records.
type InvoiceStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// Create inserts inv. A record without a status starts as a draft.
func (s *InvoiceStore) Create(ctx context.Context, inv *models.Invoice) error {
	if inv.Status == "" {
		inv.Status = models.StatusDraft
	}
	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// Get loads one invoice with its line items in order.
func (s *InvoiceStore) Get(ctx context.Context, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %d: %w", id, err)
	}
	return &inv, nil
}

// ListOptions filters List. Zero values mean no filter.
type ListOptions struct {
	Status models.Status
	Limit  int
	Offset int
}

// List returns invoices newest first.
func (s *InvoiceStore) List(ctx context.Context, opts ListOptions) ([]models.Invoice, error) {
	q := s.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("created_at desc")
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var invoices []models.Invoice
	if err := q.Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

// UpdateStatus moves an invoice along its lifecycle. lastError is stored
// with the new status and cleared when empty.
func (s *InvoiceStore) UpdateStatus(ctx context.Context, id uint, to models.Status, lastError string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invoice
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "status").First(&inv, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load invoice %d: %w", id, err)
		}
		if err := models.CheckTransition(inv.Status, to); err != nil {
			return err
		}
		err = tx.Model(&models.Invoice{}).Where("id = ?", id).
			Updates(map[string]any{"status": to, "last_error": lastError}).Error
		if err != nil {
			return fmt.Errorf("update invoice %d status: %w", id, err)
		}
		return nil
	})
}

// Extraction is what one pipeline run writes back to a record.
type Extraction struct {
	Invoice          models.ExtractedInvoice
	Provider         string
	Confidence       float64
	ProcessingTimeMs int64
	Validation       *models.ValidationResult
}

// SaveExtraction stores recovered fields and their validation on invoice
// id, replacing any earlier line items. The status is left unchanged.
func (s *InvoiceStore) SaveExtraction(ctx context.Context, id uint, ex Extraction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invoice
		err := tx.First(&inv, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load invoice %d: %w", id, err)
		}

		if err := tx.Unscoped().Where("invoice_id = ?", id).Delete(&models.LineItemRecord{}).Error; err != nil {
			return fmt.Errorf("clear line items for invoice %d: %w", id, err)
		}

		inv.ApplyExtracted(ex.Invoice)
		inv.Provider = ex.Provider
		inv.Confidence = ex.Confidence
		inv.ProcessingTimeMs = ex.ProcessingTimeMs
		if ex.Validation != nil {
			inv.ComplianceScore = ex.Validation.Score
			inv.Compliant = ex.Validation.IsValid
		}
		if err := tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(&inv).Error; err != nil {
			return fmt.Errorf("save extraction for invoice %d: %w", id, err)
		}
		return nil
	})
}

// FindPartyByIdentifier returns the name recorded against uen on the most
// recent invoice naming it as vendor or customer.
func (s *InvoiceStore) FindPartyByIdentifier(ctx context.Context, uen string) (string, bool, error) {
	var invoices []models.Invoice
	err := s.db.WithContext(ctx).
		Select("vendor_uen", "vendor_name", "customer_uen", "customer_name").
		Where("vendor_uen = ? OR customer_uen = ?", uen, uen).
		Order("updated_at desc").
		Limit(20).
		Find(&invoices).Error
	if err != nil {
		return "", false, fmt.Errorf("find party %s: %w", uen, err)
	}
	for _, inv := range invoices {
		if inv.VendorUEN == uen && inv.VendorName != "" {
			return inv.VendorName, true, nil
		}
		if inv.CustomerUEN == uen && inv.CustomerName != "" {
			return inv.CustomerName, true, nil
		}
	}
	return "", false, nil
}
