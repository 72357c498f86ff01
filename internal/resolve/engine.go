package resolve

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/entity-resolver/backend/internal/aggregate"
	"github.com/entity-resolver/backend/internal/extract"
	"github.com/entity-resolver/backend/internal/metrics"
	"github.com/entity-resolver/backend/internal/search"
	"github.com/entity-resolver/backend/internal/storage/models"
	"github.com/entity-resolver/backend/internal/verify"
	"github.com/entity-resolver/backend/pkg/utils"
)

// Fetcher retrieves a page's text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor is the language-understanding collaborator.
type Extractor interface {
	ExtractProfile(ctx context.Context, text string, q models.Query) (*extract.RawExtraction, error)
}

// Searcher fans query strings out and returns deduplicated evidence.
type Searcher interface {
	Run(ctx context.Context, queries []string) ([]models.EvidenceSource, error)
}

// Store persists resolution runs for audit. Persistence failures are
// never fatal to a run.
type Store interface {
	InsertResolution(record *models.ResolutionRecord) error
	InsertResolutionSource(source *models.ResolutionSource) error
}

// Cache holds finished records keyed by query hash.
type Cache interface {
	GetRecord(ctx context.Context, key string, out interface{}) (bool, error)
	SetRecord(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type Config struct {
	QueryFanout int
	CacheTTL    time.Duration
}

// Engine runs the full evidence pipeline: search fan-out, bounded
// fetch, extraction, identity verification, aggregation. Search and
// fetch share one in-flight ceiling via the injected semaphore.
type Engine struct {
	searcher    Searcher
	fetcher     Fetcher
	extractor   Extractor
	adapter     *extract.Adapter
	verifier    *verify.Verifier
	aggregator  *aggregate.Aggregator
	store       Store
	cache       Cache
	sem         *semaphore.Weighted
	queryFanout int
	cacheTTL    time.Duration
	logger      *zap.Logger
}

func NewEngine(
	searcher Searcher,
	fetcher Fetcher,
	extractor Extractor,
	adapter *extract.Adapter,
	verifier *verify.Verifier,
	aggregator *aggregate.Aggregator,
	store Store,
	cache Cache,
	sem *semaphore.Weighted,
	cfg Config,
	log *zap.Logger,
) *Engine {
	if cfg.QueryFanout <= 0 {
		cfg.QueryFanout = 4
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return &Engine{
		searcher:    searcher,
		fetcher:     fetcher,
		extractor:   extractor,
		adapter:     adapter,
		verifier:    verifier,
		aggregator:  aggregator,
		store:       store,
		cache:       cache,
		sem:         sem,
		queryFanout: cfg.QueryFanout,
		cacheTTL:    cfg.CacheTTL,
		logger:      log,
	}
}

// ResolveEntity resolves one Query into an AggregatedRecord. A run
// with zero surviving evidence returns the valid not-found record;
// the only error before the record exists is a malformed query.
func (e *Engine) ResolveEntity(ctx context.Context, q models.Query) (*models.AggregatedRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	runID := uuid.New().String()
	cacheKey := utils.QueryKey(q.Name, q.Role, q.Institution, q.Locality, q.Handle)

	if e.cache != nil {
		var cached models.AggregatedRecord
		hit, err := e.cache.GetRecord(ctx, cacheKey, &cached)
		if err != nil {
			e.logger.Warn("Record cache lookup failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("record").Inc()
			e.logger.Info("Resolution served from cache",
				zap.String("run_id", runID),
				zap.String("entity", q.Name),
			)
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("record").Inc()
	}

	e.logger.Info("Resolution started",
		zap.String("run_id", runID),
		zap.String("entity", q.Name),
	)

	sources, err := e.searcher.Run(ctx, search.BuildQueries(q, e.queryFanout))
	if err != nil {
		return nil, err
	}
	metrics.EvidenceSources.Observe(float64(len(sources)))

	candidates := e.collectCandidates(ctx, q, sources)

	verifications := make([]models.VerificationResult, len(candidates))
	accepted := 0
	for i, c := range candidates {
		verifications[i] = e.verifier.Verify(q, c)
		if verifications[i].Accepted {
			accepted++
		}
	}
	metrics.CandidatesAccepted.Observe(float64(accepted))

	record := e.aggregator.Aggregate(q, candidates, verifications)
	latency := time.Since(start)

	metrics.ResolutionDuration.WithLabelValues("resolve").Observe(latency.Seconds())
	metrics.ResolutionTotal.WithLabelValues(statusLabel(record)).Inc()
	metrics.ConfidenceScore.Observe(record.Confidence)

	e.persist(runID, q, record, candidates, verifications, len(sources), latency)

	if e.cache != nil && record.Found() {
		if err := e.cache.SetRecord(ctx, cacheKey, record, e.cacheTTL); err != nil {
			e.logger.Warn("Record cache store failed", zap.Error(err))
		}
	}

	e.logger.Info("Resolution completed",
		zap.String("run_id", runID),
		zap.String("entity", q.Name),
		zap.Int("sources", len(sources)),
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", accepted),
		zap.Float64("confidence", record.Confidence),
		zap.Duration("latency", latency),
	)

	return &record, nil
}

// collectCandidates fetches and extracts every evidence source under
// the shared semaphore. Any unit that fails both extraction and the
// URL-pattern fallback is dropped from the evidence pool.
func (e *Engine) collectCandidates(ctx context.Context, q models.Query, sources []models.EvidenceSource) []models.Candidate {
	var (
		mu         sync.Mutex
		candidates []models.Candidate
	)

	g, gCtx := errgroup.WithContext(ctx)

	for _, s := range sources {
		source := s
		g.Go(func() error {
			if err := e.sem.Acquire(gCtx, 1); err != nil {
				return nil
			}
			text, fetchErr := e.fetcher.Fetch(gCtx, source.URL)
			e.sem.Release(1)

			candidate, ok := e.candidateFor(gCtx, q, source, text, fetchErr)
			if !ok {
				return nil
			}

			mu.Lock()
			candidates = append(candidates, candidate)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return candidates
}

// candidateFor builds one Candidate from a source: extracted when the
// page yielded text and the collaborator succeeded, inferred from the
// URL pattern otherwise. The two paths are exclusive; a candidate is
// never partially patched.
func (e *Engine) candidateFor(ctx context.Context, q models.Query, source models.EvidenceSource, text string, fetchErr error) (models.Candidate, bool) {
	if fetchErr != nil {
		metrics.FetchFailures.Inc()
		e.logger.Debug("Fetch failed, trying URL-pattern fallback",
			zap.String("url", source.URL),
			zap.Error(fetchErr),
		)
		return e.adapter.InferFromURL(q, source.URL)
	}

	raw, err := e.extractor.ExtractProfile(ctx, text, q)
	if err != nil {
		e.logger.Warn("Extraction failed, trying URL-pattern fallback",
			zap.String("url", source.URL),
			zap.Error(err),
		)
		return e.adapter.InferFromURL(q, source.URL)
	}

	return e.adapter.Normalize(raw, text, source.URL), true
}

func (e *Engine) persist(runID string, q models.Query, record models.AggregatedRecord, candidates []models.Candidate, verifications []models.VerificationResult, sourcesTotal int, latency time.Duration) {
	if e.store == nil {
		return
	}

	hints, _ := json.Marshal(map[string]string{
		"role":        q.Role,
		"institution": q.Institution,
		"locality":    q.Locality,
		"handle":      q.Handle,
	})

	err := e.store.InsertResolution(&models.ResolutionRecord{
		ID:           runID,
		EntityName:   q.Name,
		Hints:        string(hints),
		Confidence:   record.Confidence,
		SourcesTotal: sourcesTotal,
		SourcesUsed:  len(record.SourceURLs),
		LatencyMS:    int(latency.Milliseconds()),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn("Failed to persist resolution", zap.Error(err))
		return
	}

	for i, c := range candidates {
		if i >= len(verifications) {
			break
		}
		err := e.store.InsertResolutionSource(&models.ResolutionSource{
			ResolutionID: runID,
			SourceURL:    c.SourceURL,
			SourceKind:   string(c.SourceKind),
			Origin:       string(c.Origin),
			Score:        verifications[i].Score,
			Accepted:     verifications[i].Accepted,
		})
		if err != nil {
			e.logger.Warn("Failed to persist resolution source",
				zap.String("url", c.SourceURL),
				zap.Error(err),
			)
		}
	}
}

func statusLabel(record models.AggregatedRecord) string {
	if record.Found() {
		return "found"
	}
	return "not_found"
}
