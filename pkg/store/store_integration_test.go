//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"scan-comply/pkg/models"
	"scan-comply/pkg/testutil/containers"
)

type InvoiceStoreSuite struct {
	suite.Suite
	db    *gorm.DB
	store *InvoiceStore
}

func TestInvoiceStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(InvoiceStoreSuite))
}

func (s *InvoiceStoreSuite) SetupSuite() {
	pg := containers.NewPostgresContainer(s.T())
	db, err := Open(pg.DSN)
	s.Require().NoError(err)
	s.Require().NoError(Migrate(db))
	s.db = db
	s.store = New(db)
}

func (s *InvoiceStoreSuite) SetupTest() {
	s.Require().NoError(s.db.Exec("TRUNCATE invoices, line_item_records RESTART IDENTITY").Error)
}

func (s *InvoiceStoreSuite) extraction() Extraction {
	return Extraction{
		Invoice: models.ExtractedInvoice{
			InvoiceNumber: "INV-7",
			InvoiceDate:   "2024-05-01",
			CustomerName:  "Singapore Widgets Limited",
			CustomerUEN:   "199801234K",
			VendorName:    "Acme Solutions Pte. Ltd.",
			VendorUEN:     "201912345A",
			TotalAmount:   models.Float(109),
			LineItems: []models.LineItem{
				{Description: "Widget A", Quantity: 2, UnitPrice: 50, Amount: 100},
				{Description: "Delivery", Quantity: 1, UnitPrice: 0, Amount: 0},
			},
		},
		Provider:         "blocks",
		Confidence:       0.8,
		ProcessingTimeMs: 12,
		Validation:       &models.ValidationResult{IsValid: true, Score: 94},
	}
}

func (s *InvoiceStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	inv := &models.Invoice{FileName: "a.json"}
	s.Require().NoError(s.store.Create(ctx, inv))
	s.NotZero(inv.ID)
	s.Equal(models.StatusDraft, inv.Status)

	got, err := s.store.Get(ctx, inv.ID)
	s.Require().NoError(err)
	s.Equal("a.json", got.FileName)

	_, err = s.store.Get(ctx, 999)
	s.ErrorIs(err, ErrNotFound)
}

func (s *InvoiceStoreSuite) TestUpdateStatusEnforcesLifecycle() {
	ctx := context.Background()
	inv := &models.Invoice{FileName: "a.json"}
	s.Require().NoError(s.store.Create(ctx, inv))

	s.ErrorIs(s.store.UpdateStatus(ctx, inv.ID, models.StatusSubmitted, ""), models.ErrInvalidTransition)
	s.Require().NoError(s.store.UpdateStatus(ctx, inv.ID, models.StatusProcessing, ""))
	s.Require().NoError(s.store.UpdateStatus(ctx, inv.ID, models.StatusFailed, "recognition engine unavailable"))

	got, err := s.store.Get(ctx, inv.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, got.Status)
	s.Equal("recognition engine unavailable", got.LastError)

	s.ErrorIs(s.store.UpdateStatus(ctx, 999, models.StatusProcessing, ""), ErrNotFound)
}

func (s *InvoiceStoreSuite) TestSaveExtractionReplacesLineItems() {
	ctx := context.Background()
	inv := &models.Invoice{FileName: "a.json"}
	s.Require().NoError(s.store.Create(ctx, inv))

	s.Require().NoError(s.store.SaveExtraction(ctx, inv.ID, s.extraction()))
	ex := s.extraction()
	ex.Invoice.LineItems = ex.Invoice.LineItems[:1]
	s.Require().NoError(s.store.SaveExtraction(ctx, inv.ID, ex))

	got, err := s.store.Get(ctx, inv.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, got.Status)
	s.Equal("INV-7", got.InvoiceNumber)
	s.Equal("blocks", got.Provider)
	s.Equal(float64(94), got.ComplianceScore)
	s.True(got.Compliant)
	s.Require().Len(got.LineItems, 1)
	s.Equal("Widget A", got.LineItems[0].Description)
	s.Equal(ex.Invoice, got.ToExtracted())
}

func (s *InvoiceStoreSuite) TestListAndFindParty() {
	ctx := context.Background()
	first := &models.Invoice{FileName: "a.json"}
	second := &models.Invoice{FileName: "b.json"}
	s.Require().NoError(s.store.Create(ctx, first))
	s.Require().NoError(s.store.Create(ctx, second))
	s.Require().NoError(s.store.SaveExtraction(ctx, first.ID, s.extraction()))
	s.Require().NoError(s.store.UpdateStatus(ctx, second.ID, models.StatusProcessing, ""))

	all, err := s.store.List(ctx, ListOptions{})
	s.Require().NoError(err)
	s.Len(all, 2)

	processing, err := s.store.List(ctx, ListOptions{Status: models.StatusProcessing})
	s.Require().NoError(err)
	s.Require().Len(processing, 1)
	s.Equal(second.ID, processing[0].ID)

	name, found, err := s.store.FindPartyByIdentifier(ctx, "201912345A")
	s.Require().NoError(err)
	s.True(found)
	s.Equal("Acme Solutions Pte. Ltd.", name)

	name, found, err = s.store.FindPartyByIdentifier(ctx, "199801234K")
	s.Require().NoError(err)
	s.True(found)
	s.Equal("Singapore Widgets Limited", name)

	_, found, err = s.store.FindPartyByIdentifier(ctx, "53312345D")
	s.Require().NoError(err)
	s.False(found)
}
