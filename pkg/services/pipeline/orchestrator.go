// Package pipeline sequences recognition, analysis and field recovery for
// one document, and runs that against stored invoice records.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scan-comply/pkg/metrics"
	"scan-comply/pkg/models"
	"scan-comply/pkg/services/analyzer"
	"scan-comply/pkg/services/extraction"
	"scan-comply/pkg/services/ocr"
)

const templateSuffix = "+template"

// Options tune a single run.
type Options struct {
	// EnableTemplateMatching allows a line-template pass when the first
	// pass scores below MinConfidence.
	EnableTemplateMatching bool    `json:"enableTemplateMatching"`
	MinConfidence          float64 `json:"minConfidence"`
}

// Result is the envelope returned for one processed document.
type Result struct {
	RunID            uuid.UUID               `json:"runId"`
	Provider         string                  `json:"provider"`
	Confidence       float64                 `json:"confidence"`
	ProcessingTimeMs int64                   `json:"processingTimeMs"`
	Warnings         []string                `json:"warnings"`
	ExtractedInvoice models.ExtractedInvoice `json:"extractedInvoice"`
}

// Processor turns a document into a Result. *Orchestrator implements it.
type Processor interface {
	Process(ctx context.Context, doc []byte, fileName string, opts Options) (*Result, error)
}

// Orchestrator runs Recognizer -> Analyze -> Recover for one document.
type Orchestrator struct {
	recognizer ocr.Recognizer
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(recognizer ocr.Recognizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		recognizer: recognizer,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process recognizes doc and recovers an invoice from it. Only recognition
// failures are returned as errors; gaps in the recovered invoice are
// reported as warnings.
func (o *Orchestrator) Process(ctx context.Context, doc []byte, fileName string, opts Options) (*Result, error) {
	start := o.now()
	runID := uuid.New()
	log := o.logger.With(zap.String("run_id", runID.String()), zap.String("file_name", fileName))

	recognized, err := o.recognizer.Recognize(ctx, doc, fileName)
	if err != nil {
		elapsed := o.now().Sub(start)
		o.metrics.DocumentProcessed(o.recognizer.Name(), "error", elapsed, 0)
		log.Error("document recognition failed", zap.Error(err), zap.Int64("duration_ms", elapsed.Milliseconds()))
		return nil, fmt.Errorf("recognize %s: %w", fileName, err)
	}

	provider := recognized.Provider
	if provider == "" {
		provider = o.recognizer.Name()
	}

	analysis := analyzer.Analyze(recognized)
	inv := extraction.Recover(analysis)
	confidence := Confidence(inv, analysis.Confidence)

	if opts.EnableTemplateMatching && confidence < opts.MinConfidence {
		alt := extraction.WithTemplateFields(analysis)
		altInv := extraction.Recover(alt)
		altConfidence := Confidence(altInv, alt.Confidence)
		log.Debug("template pass",
			zap.Float64("confidence", confidence),
			zap.Float64("template_confidence", altConfidence))
		if altConfidence > confidence {
			inv, confidence = altInv, altConfidence
			provider += templateSuffix
		}
	}

	var warnings []string
	for _, f := range extraction.MissingFields(inv) {
		warnings = append(warnings, fmt.Sprintf("could not extract %s", f))
	}
	if opts.MinConfidence > 0 && confidence < opts.MinConfidence {
		warnings = append(warnings, fmt.Sprintf("confidence %.2f is below the minimum %.2f", confidence, opts.MinConfidence))
	}
	if warnings == nil {
		warnings = []string{}
	}

	elapsed := o.now().Sub(start)
	o.metrics.DocumentProcessed(provider, "ok", elapsed, confidence)
	log.Info("document processed",
		zap.String("provider", provider),
		zap.Float64("confidence", confidence),
		zap.Int("warnings", len(warnings)),
		zap.Int64("duration_ms", elapsed.Milliseconds()))

	return &Result{
		RunID:            runID,
		Provider:         provider,
		Confidence:       confidence,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Warnings:         warnings,
		ExtractedInvoice: inv,
	}, nil
}

// Confidence blends field coverage with the engine's own confidence when it
// reports one.
func Confidence(inv models.ExtractedInvoice, ocrConfidence *float64) float64 {
	coverage := extraction.Coverage(inv)
	if ocrConfidence == nil {
		return coverage
	}
	return 0.7*coverage + 0.3*(*ocrConfidence)
}
