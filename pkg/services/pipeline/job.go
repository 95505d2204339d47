package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"scan-comply/pkg/models"
	"scan-comply/pkg/store"
)

// ErrJobPanicked wraps a panic recovered while processing an invoice.
var ErrJobPanicked = errors.New("invoice processing panicked")

// InvoiceStore is the part of the record store a Job writes to.
type InvoiceStore interface {
	UpdateStatus(ctx context.Context, id uint, to models.Status, lastError string) error
	SaveExtraction(ctx context.Context, id uint, ex store.Extraction) error
}

// Validator checks a recovered invoice.
type Validator interface {
	Validate(ctx context.Context, inv models.ExtractedInvoice) models.ValidationResult
}

// JobResult is what a completed Job produced.
type JobResult struct {
	Extraction *Result                 `json:"extraction"`
	Validation models.ValidationResult `json:"validation"`
}

// Job processes a document on behalf of a stored invoice and drives its
// status: processing while running, then submitted or failed.
type Job struct {
	processor Processor
	validator Validator
	store     InvoiceStore
	logger    *zap.Logger
}

func NewJob(processor Processor, validator Validator, st InvoiceStore, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{processor: processor, validator: validator, store: st, logger: logger}
}

// Run processes doc for invoice invoiceID. A non-compliant invoice still
// completes as submitted; its findings are stored with it. Errors leave the
// invoice failed with the cause recorded.
func (j *Job) Run(ctx context.Context, invoiceID uint, doc []byte, fileName string, opts Options) (res *JobResult, err error) {
	log := j.logger.With(zap.Uint("invoice_id", invoiceID), zap.String("file_name", fileName))

	if startErr := j.store.UpdateStatus(ctx, invoiceID, models.StatusProcessing, ""); startErr != nil {
		return nil, fmt.Errorf("start invoice %d: %w", invoiceID, startErr)
	}
	// A panic past this point must not leave the invoice in processing.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrJobPanicked, r)
			j.fail(ctx, log, invoiceID, err)
		}
	}()

	return j.run(ctx, log, invoiceID, doc, fileName, opts)
}

func (j *Job) run(ctx context.Context, log *zap.Logger, invoiceID uint, doc []byte, fileName string, opts Options) (*JobResult, error) {
	res, err := j.processor.Process(ctx, doc, fileName, opts)
	if err != nil {
		j.fail(ctx, log, invoiceID, err)
		return nil, err
	}

	validation := j.validator.Validate(ctx, res.ExtractedInvoice)
	err = j.store.SaveExtraction(ctx, invoiceID, store.Extraction{
		Invoice:          res.ExtractedInvoice,
		Provider:         res.Provider,
		Confidence:       res.Confidence,
		ProcessingTimeMs: res.ProcessingTimeMs,
		Validation:       &validation,
	})
	if err != nil {
		j.fail(ctx, log, invoiceID, err)
		return nil, err
	}

	if err := j.store.UpdateStatus(ctx, invoiceID, models.StatusSubmitted, ""); err != nil {
		return nil, fmt.Errorf("complete invoice %d: %w", invoiceID, err)
	}
	log.Info("invoice processed",
		zap.String("provider", res.Provider),
		zap.Bool("compliant", validation.IsValid),
		zap.Float64("score", validation.Score))

	return &JobResult{Extraction: res, Validation: validation}, nil
}

func (j *Job) fail(ctx context.Context, log *zap.Logger, invoiceID uint, cause error) {
	log.Error("invoice processing failed", zap.Error(cause))
	if err := j.store.UpdateStatus(ctx, invoiceID, models.StatusFailed, cause.Error()); err != nil {
		log.Error("failed to mark invoice failed", zap.Error(err))
	}
}
