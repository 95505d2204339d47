package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scan-comply/pkg/metrics"
	"scan-comply/pkg/models"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
)

// Verifier resolves UENs through cache, registry, reference directory and
// last-resort sources. It owns its cache.
type Verifier struct {
	cache     *Cache
	tier      Tier
	registry  Registry
	directory Directory
	history   History
	known     map[string]string

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	batchSize  int
	batchDelay time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type config struct {
	ttl        time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	tier       Tier
	registry   Registry
	directory  Directory
	history    History
	known      map[string]string
	batchSize  int
	batchDelay time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Verifier.
type Option func(*config)

// WithClock injects the time source used for expiry and year plausibility.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithSleep replaces the inter-chunk pause, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *config) { c.sleep = sleep }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithTier adds a shared cache tier behind the in-memory cache.
func WithTier(t Tier) Option {
	return func(c *config) { c.tier = t }
}

// WithRegistry enables the live registry integration.
func WithRegistry(r Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithDirectory replaces the default ReferenceDirectory.
func WithDirectory(d Directory) Option {
	return func(c *config) { c.directory = d }
}

// WithHistory enables last-resort resolution from past invoices.
func WithHistory(h History) Option {
	return func(c *config) { c.history = h }
}

// WithKnownEntities sets the last-resort UEN -> name table.
func WithKnownEntities(known map[string]string) Option {
	return func(c *config) { c.known = known }
}

func WithBatching(size int, delay time.Duration) Option {
	return func(c *config) {
		c.batchSize = size
		c.batchDelay = delay
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// NewVerifier builds a Verifier. Without options it uses a 24h in-memory
// cache and the ReferenceDirectory.
func NewVerifier(opts ...Option) *Verifier {
	cfg := config{
		ttl:        DefaultCacheTTL,
		now:        time.Now,
		sleep:      sleepContext,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.directory == nil {
		cfg.directory = NewReferenceDirectory(cfg.now)
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = DefaultBatchSize
	}

	v := &Verifier{
		cache:      NewCache(cfg.ttl, cfg.now),
		tier:       cfg.tier,
		registry:   cfg.registry,
		directory:  cfg.directory,
		history:    cfg.history,
		known:      cfg.known,
		now:        cfg.now,
		sleep:      cfg.sleep,
		batchSize:  cfg.batchSize,
		batchDelay: cfg.batchDelay,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
	}
	v.cache.onEvict = v.metrics.Evicted
	return v
}

// Cache exposes the verifier's cache for sweeping and inspection.
func (v *Verifier) Cache() *Cache { return v.cache }

// Verify resolves identifier. It never returns an error: failures are
// reported in the result's Error field.
func (v *Verifier) Verify(ctx context.Context, identifier string) models.EntityVerification {
	uen := Normalize(identifier)

	if cached, ok := v.lookupCache(ctx, uen); ok {
		return cached.EntityVerification
	}

	result, err := v.resolve(ctx, uen)
	if err != nil {
		v.logger.Warn("entity resolution failed, trying fallbacks",
			zap.String("identifier", uen), zap.Error(err))
		return v.lastResort(ctx, uen, err)
	}

	if result.IsValid && result.Exists && result.Error == "" {
		v.storeCache(ctx, result)
	}
	return result
}

func (v *Verifier) lookupCache(ctx context.Context, uen string) (models.CachedVerification, bool) {
	if entry, ok := v.cache.Get(uen); ok {
		v.metrics.CacheLookup("memory", true)
		return entry, true
	}
	v.metrics.CacheLookup("memory", false)

	if v.tier == nil {
		return models.CachedVerification{}, false
	}
	entry, ok, err := v.tier.Get(ctx, uen)
	if err != nil {
		v.logger.Warn("shared cache read failed", zap.String("identifier", uen), zap.Error(err))
		return models.CachedVerification{}, false
	}
	v.metrics.CacheLookup("shared", ok)
	if ok {
		v.cache.Put(entry)
	}
	return entry, ok
}

func (v *Verifier) storeCache(ctx context.Context, result models.EntityVerification) {
	entry := v.cache.Set(result)
	if v.tier == nil {
		return
	}
	if err := v.tier.Set(ctx, entry); err != nil {
		v.logger.Warn("shared cache write failed", zap.String("identifier", result.UEN), zap.Error(err))
	}
}

// resolve runs the format check, the live registry when configured, and the
// directory. A non-nil error means the primary sources could not answer.
func (v *Verifier) resolve(ctx context.Context, uen string) (models.EntityVerification, error) {
	format := DetectFormat(uen)
	if format == FormatNone {
		return models.EntityVerification{
			UEN:         uen,
			IsValid:     false,
			Exists:      false,
			LastUpdated: v.now(),
			Error:       fmt.Sprintf("invalid UEN format: %q does not match any registered identifier format", uen),
		}, nil
	}

	if v.registry != nil {
		result, err := v.registry.Lookup(ctx, uen)
		if err == nil {
			result.UEN = uen
			result.IsValid = true
			if result.Source == "" {
				result.Source = SourceRegistry
			}
			v.metrics.Resolved(SourceRegistry)
			return result, nil
		}
		v.logger.Info("registry lookup failed, using reference directory",
			zap.String("identifier", uen), zap.Error(err))
	}

	result, found, err := v.directory.Lookup(ctx, uen)
	if err != nil {
		return models.EntityVerification{}, fmt.Errorf("directory lookup %s: %w", uen, err)
	}
	if !found {
		v.metrics.Resolved("not_found")
		return models.EntityVerification{
			UEN:         uen,
			IsValid:     true,
			Exists:      false,
			EntityType:  EntityType(format),
			LastUpdated: v.now(),
			Error:       "entity not found in registry",
		}, nil
	}
	v.metrics.Resolved(result.Source)
	return result, nil
}

// lastResort consults identifiers seen on past invoices, then the known
// entities table.
func (v *Verifier) lastResort(ctx context.Context, uen string, cause error) models.EntityVerification {
	valid := DetectFormat(uen) != FormatNone
	base := models.EntityVerification{
		UEN:         uen,
		IsValid:     valid,
		EntityType:  EntityType(DetectFormat(uen)),
		LastUpdated: v.now(),
	}

	if v.history != nil {
		name, found, err := v.history.FindPartyByIdentifier(ctx, uen)
		if err != nil {
			v.logger.Warn("invoice history lookup failed", zap.String("identifier", uen), zap.Error(err))
		} else if found {
			base.Exists = true
			base.EntityName = name
			base.Status = "Unknown"
			base.Source = SourceHistory
			v.metrics.Resolved(SourceHistory)
			return base
		}
	}

	if name, ok := v.known[uen]; ok {
		base.Exists = true
		base.EntityName = name
		base.Status = "Unknown"
		base.Source = SourceKnown
		v.metrics.Resolved(SourceKnown)
		return base
	}

	v.metrics.Resolved("failed")
	base.Error = fmt.Sprintf("verification unavailable: %v", cause)
	return base
}

// VerifyBatch verifies identifiers in chunks, running each chunk
// concurrently and pausing between chunks to limit load on the registry. The
// result has one entry per distinct input string.
func (v *Verifier) VerifyBatch(ctx context.Context, identifiers []string) map[string]models.EntityVerification {
	results := make(map[string]models.EntityVerification, len(identifiers))
	var mu sync.Mutex

	for start := 0; start < len(identifiers); start += v.batchSize {
		end := start + v.batchSize
		if end > len(identifiers) {
			end = len(identifiers)
		}
		chunk := identifiers[start:end]

		if start > 0 {
			if err := v.sleep(ctx, v.batchDelay); err != nil {
				v.fillCancelled(results, identifiers[start:], err)
				return results
			}
		}

		var g errgroup.Group
		for _, id := range chunk {
			g.Go(func() error {
				r := v.Verify(ctx, id)
				mu.Lock()
				results[id] = r
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

func (v *Verifier) fillCancelled(results map[string]models.EntityVerification, rest []string, cause error) {
	for _, id := range rest {
		uen := Normalize(id)
		results[id] = models.EntityVerification{
			UEN:         uen,
			IsValid:     DetectFormat(uen) != FormatNone,
			LastUpdated: v.now(),
			Error:       fmt.Sprintf("batch cancelled: %v", cause),
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
