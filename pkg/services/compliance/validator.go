// Package compliance checks structured invoices against the tax-invoice
// rules and proposes deterministic corrections.
package compliance

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"scan-comply/pkg/metrics"
	"scan-comply/pkg/models"
	"scan-comply/pkg/services/entity"
)

// EntityVerifier resolves a business identifier. *entity.Verifier satisfies it.
type EntityVerifier interface {
	Verify(ctx context.Context, identifier string) models.EntityVerification
}

// Validator runs the compliance rule set. It holds no per-invoice state and
// is safe for concurrent use.
type Validator struct {
	verifier EntityVerifier
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Validator.
type Option func(*Validator)

func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a Validator. A nil verifier falls back to an
// entity.Verifier backed by the reference directory.
func NewValidator(verifier EntityVerifier, opts ...Option) *Validator {
	v := &Validator{
		verifier: verifier,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.verifier == nil {
		v.verifier = entity.NewVerifier(entity.WithClock(v.now))
	}
	return v
}

// Validate checks inv and returns the findings. Errors make the invoice
// non-compliant; warnings only lower the score.
func (v *Validator) Validate(ctx context.Context, inv models.ExtractedInvoice) models.ValidationResult {
	c := newChecker()

	var vendor, customer *models.EntityVerification
	if inv.VendorUEN != "" {
		r := v.verifier.Verify(ctx, inv.VendorUEN)
		vendor = &r
		c.res.Metadata.Verified = append(c.res.Metadata.Verified, r.UEN)
	}
	if inv.CustomerUEN != "" {
		r := v.verifier.Verify(ctx, inv.CustomerUEN)
		customer = &r
		c.res.Metadata.Verified = append(c.res.Metadata.Verified, r.UEN)
	}

	checkRequired(c, inv)
	checkDates(c, inv)
	checkAmounts(c, inv)
	checkLineItems(c, inv)
	checkTaxRegistration(c, inv)
	checkVendor(c, inv, vendor)
	checkCustomer(c, customer)

	c.res.IsValid = len(c.res.Errors) == 0
	c.res.Score = score(c.res.Metadata.ChecksPassed, c.res.Metadata.ChecksRun)
	c.res.Metadata.ValidatedAt = v.now()

	v.metrics.Validated(c.res.IsValid)
	v.logger.Debug("invoice validated",
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Bool("valid", c.res.IsValid),
		zap.Float64("score", c.res.Score),
		zap.Int("errors", len(c.res.Errors)),
		zap.Int("warnings", len(c.res.Warnings)))
	return c.res
}

// score is the percentage of checks passed, rounded. No checks means
// nothing failed.
func score(passed, run int) float64 {
	if run == 0 {
		return 100
	}
	return math.Round(100 * float64(passed) / float64(run))
}

// checker accumulates one validation run.
type checker struct {
	res models.ValidationResult
}

func newChecker() *checker {
	return &checker{res: models.ValidationResult{
		Errors:      []models.ValidationIssue{},
		Warnings:    []models.ValidationIssue{},
		Suggestions: []models.Suggestion{},
		Metadata:    models.ValidationMetadata{Checks: []string{}},
	}}
}

// check runs one named rule. fn reports findings through the checker and
// returns whether the rule passed.
func (c *checker) check(name string, fn func() bool) {
	c.res.Metadata.Checks = append(c.res.Metadata.Checks, name)
	c.res.Metadata.ChecksRun++
	if fn() {
		c.res.Metadata.ChecksPassed++
	}
}

func (c *checker) fail(field, code, message string) bool {
	c.res.Errors = append(c.res.Errors, models.ValidationIssue{Field: field, Message: message, Code: code})
	return false
}

func (c *checker) warn(field, code, message string) bool {
	c.res.Warnings = append(c.res.Warnings, models.ValidationIssue{Field: field, Message: message, Code: code})
	return false
}

func (c *checker) suggest(s models.Suggestion) {
	c.res.Suggestions = append(c.res.Suggestions, s)
}
