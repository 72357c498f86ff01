package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/entity-resolver/backend/internal/storage/models"
)

// Provider is the external search contract.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.EvidenceSource, error)
}

// Orchestrator fans a batch of query strings out against a Provider.
// All calls share the run-wide semaphore so search and fetch together
// never exceed the configured in-flight ceiling.
type Orchestrator struct {
	provider   Provider
	sem        *semaphore.Weighted
	maxResults int
	logger     *zap.Logger
}

func NewOrchestrator(provider Provider, sem *semaphore.Weighted, maxResults int, log *zap.Logger) *Orchestrator {
	if maxResults <= 0 {
		maxResults = 8
	}
	return &Orchestrator{
		provider:   provider,
		sem:        sem,
		maxResults: maxResults,
		logger:     log,
	}
}

// Run executes every query and returns the flattened results,
// deduplicated by URL with first occurrence kept. A failed query is
// dropped; the batch degrades rather than failing wholesale. Output
// order is unspecified.
func (o *Orchestrator) Run(ctx context.Context, queries []string) ([]models.EvidenceSource, error) {
	var (
		mu        sync.Mutex
		collected []models.EvidenceSource
	)

	g, gCtx := errgroup.WithContext(ctx)

	for _, q := range queries {
		query := q
		g.Go(func() error {
			if err := o.sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer o.sem.Release(1)

			results, err := o.provider.Search(gCtx, query, o.maxResults)
			if err != nil {
				o.logger.Warn("Search query dropped",
					zap.String("query", query),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			collected = append(collected, results...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	deduped := dedupeByURL(collected)
	o.logger.Info("Search fan-out completed",
		zap.Int("queries", len(queries)),
		zap.Int("raw_results", len(collected)),
		zap.Int("unique_results", len(deduped)),
	)

	return deduped, nil
}

func dedupeByURL(sources []models.EvidenceSource) []models.EvidenceSource {
	seen := make(map[string]struct{}, len(sources))
	out := make([]models.EvidenceSource, 0, len(sources))
	for _, s := range sources {
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
	}
	return out
}

// BuildQueries expands a Query into the search strings for one run.
// Query generation proper is a collaborator concern; this default
// covers the common case of a name plus optional hints.
func BuildQueries(q models.Query, fanout int) []string {
	if fanout <= 0 {
		fanout = 4
	}

	candidates := []string{q.Name}
	if q.Institution != "" {
		candidates = append(candidates, q.Name+" "+q.Institution)
	}
	if q.Role != "" {
		candidates = append(candidates, q.Name+" "+q.Role)
	}
	if q.Locality != "" {
		candidates = append(candidates, q.Name+" "+q.Locality)
	}
	if q.Handle != "" {
		candidates = append(candidates, q.Name+" "+q.Handle)
	}

	if len(candidates) > fanout {
		candidates = candidates[:fanout]
	}
	return candidates
}
