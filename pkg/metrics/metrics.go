package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	VerificationCache    *prometheus.CounterVec
	VerificationSource   *prometheus.CounterVec
	CacheEvictions       prometheus.Counter
	DocumentsProcessed   *prometheus.CounterVec
	ProcessingDuration   prometheus.Histogram
	ValidationsTotal     *prometheus.CounterVec
	ExtractionConfidence prometheus.Histogram
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VerificationCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_comply_verification_cache_total",
			Help: "Entity verification cache lookups by tier and result",
		}, []string{"tier", "result"}),
		VerificationSource: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_comply_verification_source_total",
			Help: "Entity verifications resolved, by source",
		}, []string{"source"}),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "scan_comply_verification_cache_evictions_total",
			Help: "Entries removed from the verification cache by sweep or eviction",
		}),
		DocumentsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_comply_documents_processed_total",
			Help: "Documents run through the extraction pipeline, by provider and outcome",
		}, []string{"provider", "outcome"}),
		ProcessingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scan_comply_processing_duration_seconds",
			Help:    "Wall-clock time of one extraction run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ValidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_comply_validations_total",
			Help: "Compliance validations, by outcome",
		}, []string{"outcome"}),
		ExtractionConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scan_comply_extraction_confidence",
			Help:    "Confidence of extracted invoices",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
}

func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.VerificationCache.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) Resolved(source string) {
	if m == nil {
		return
	}
	m.VerificationSource.WithLabelValues(source).Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictions.Add(float64(n))
}

func (m *Metrics) DocumentProcessed(provider, outcome string, d time.Duration, confidence float64) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.WithLabelValues(provider, outcome).Inc()
	m.ProcessingDuration.Observe(d.Seconds())
	if outcome == "ok" {
		m.ExtractionConfidence.Observe(confidence)
	}
}

func (m *Metrics) Validated(valid bool) {
	if m == nil {
		return
	}
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	m.ValidationsTotal.WithLabelValues(outcome).Inc()
}
