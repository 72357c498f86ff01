package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/entity-resolver/backend/internal/aggregate"
	"github.com/entity-resolver/backend/internal/domains"
	"github.com/entity-resolver/backend/internal/extract"
	"github.com/entity-resolver/backend/internal/search"
	"github.com/entity-resolver/backend/internal/storage/models"
	"github.com/entity-resolver/backend/internal/verify"
	"github.com/entity-resolver/backend/pkg/utils"
)

type fakeSearcher struct {
	sources []models.EvidenceSource
	err     error
	calls   [][]string
}

func (f *fakeSearcher) Run(_ context.Context, queries []string) ([]models.EvidenceSource, error) {
	f.calls = append(f.calls, queries)
	return f.sources, f.err
}

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	text, ok := f.pages[url]
	if !ok {
		return "", errors.New("unreachable")
	}
	return text, nil
}

type fakeExtractor struct {
	extractions map[string]*extract.RawExtraction
}

func (f *fakeExtractor) ExtractProfile(_ context.Context, text string, _ models.Query) (*extract.RawExtraction, error) {
	raw, ok := f.extractions[text]
	if !ok {
		return nil, errors.New("extraction failed")
	}
	return raw, nil
}

type fakeStore struct {
	resolutions []*models.ResolutionRecord
	sources     []*models.ResolutionSource
}

func (f *fakeStore) InsertResolution(r *models.ResolutionRecord) error {
	f.resolutions = append(f.resolutions, r)
	return nil
}

func (f *fakeStore) InsertResolutionSource(s *models.ResolutionSource) error {
	f.sources = append(f.sources, s)
	return nil
}

type fakeCache struct {
	records map[string]*models.AggregatedRecord
	sets    int
}

func (f *fakeCache) GetRecord(_ context.Context, key string, out interface{}) (bool, error) {
	record, ok := f.records[key]
	if !ok {
		return false, nil
	}
	*(out.(*models.AggregatedRecord)) = *record
	return true, nil
}

func (f *fakeCache) SetRecord(_ context.Context, key string, value interface{}, _ time.Duration) error {
	record := value.(models.AggregatedRecord)
	f.records[key] = &record
	f.sets++
	return nil
}

func testDomainTable(t *testing.T) *domains.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domains.yaml")
	data := []byte(`domains:
  - domain: springfieldgeneral.org
    institution: Springfield General Hospital
    locality: Springfield
    source_kind: institutional
    confidence: 0.6
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	table, err := domains.Load(path, zap.NewNop())
	require.NoError(t, err)
	return table
}

func newTestEngine(t *testing.T, searcher Searcher, fetcher Fetcher, extractor Extractor, store Store, cache Cache) *Engine {
	t.Helper()
	log := zap.NewNop()
	return NewEngine(
		searcher,
		fetcher,
		extractor,
		extract.NewAdapter(testDomainTable(t)),
		verify.New(verify.DefaultMinScore, log),
		aggregate.New(log),
		store,
		cache,
		semaphore.NewWeighted(4),
		Config{QueryFanout: 4},
		log,
	)
}

func TestResolveEntityRejectsEmptyNameBeforeAnyIO(t *testing.T) {
	searcher := &fakeSearcher{}
	engine := newTestEngine(t, searcher, &fakeFetcher{}, &fakeExtractor{}, nil, nil)

	_, err := engine.ResolveEntity(context.Background(), models.Query{Institution: "Stanford"})

	assert.ErrorIs(t, err, models.ErrEmptyName)
	assert.Empty(t, searcher.calls, "no search may happen for a malformed query")
}

func TestResolveEntityHappyPath(t *testing.T) {
	pageText := "Dr. Jane Smith is a cardiologist at Springfield General Hospital"
	searcher := &fakeSearcher{sources: []models.EvidenceSource{
		{URL: "https://springfieldgeneral.org/staff/jsmith", Title: "Jane Smith"},
	}}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://springfieldgeneral.org/staff/jsmith": pageText,
	}}
	extractor := &fakeExtractor{extractions: map[string]*extract.RawExtraction{
		pageText: {
			Name:        "Jane Smith",
			Role:        "cardiologist",
			Institution: "Springfield General Hospital",
			Confidence:  0.9,
			SourceKind:  "institutional",
		},
	}}
	store := &fakeStore{}
	cache := &fakeCache{records: map[string]*models.AggregatedRecord{}}
	engine := newTestEngine(t, searcher, fetcher, extractor, store, cache)

	record, err := engine.ResolveEntity(context.Background(), models.Query{
		Name:        "Jane Smith",
		Institution: "Springfield General Hospital",
	})

	require.NoError(t, err)
	assert.True(t, record.Found())
	assert.Equal(t, "Jane Smith", record.Name.Primary)
	assert.Equal(t, "cardiologist", record.Role.Primary)
	assert.Equal(t, []string{"https://springfieldgeneral.org/staff/jsmith"}, record.SourceURLs)

	require.Len(t, store.resolutions, 1)
	assert.Equal(t, "Jane Smith", store.resolutions[0].EntityName)
	require.Len(t, store.sources, 1)
	assert.True(t, store.sources[0].Accepted)
	assert.Equal(t, string(models.OriginExtracted), store.sources[0].Origin)

	assert.Equal(t, 1, cache.sets, "a found record is cached")
}

func TestResolveEntityFallsBackToURLInference(t *testing.T) {
	searcher := &fakeSearcher{sources: []models.EvidenceSource{
		{URL: "https://www.springfieldgeneral.org/directory/page"},
	}}
	// Fetcher knows no pages: every fetch fails and only the domain
	// table can produce evidence.
	engine := newTestEngine(t, searcher, &fakeFetcher{}, &fakeExtractor{}, &fakeStore{}, nil)

	record, err := engine.ResolveEntity(context.Background(), models.Query{
		Name:        "Jane Smith",
		Institution: "Springfield General Hospital",
	})

	require.NoError(t, err)
	assert.True(t, record.Found())
	assert.Equal(t, "Springfield General Hospital", record.Institution.Primary)
	assert.Equal(t, "Springfield", record.Locality.Primary)
	assert.Equal(t, models.Unknown, record.Role.Primary)
}

func TestResolveEntityZeroEvidenceYieldsNotFound(t *testing.T) {
	searcher := &fakeSearcher{sources: []models.EvidenceSource{
		{URL: "https://nowhere.example.com/page"},
	}}
	store := &fakeStore{}
	engine := newTestEngine(t, searcher, &fakeFetcher{}, &fakeExtractor{}, store, nil)

	record, err := engine.ResolveEntity(context.Background(), models.Query{Name: "Jane Smith"})

	// Absence of evidence is an answer, not an error.
	require.NoError(t, err)
	assert.False(t, record.Found())
	assert.Equal(t, 0.0, record.Confidence)
	assert.Equal(t, models.Unknown, record.Name.Primary)

	require.Len(t, store.resolutions, 1)
	assert.Equal(t, 0.0, store.resolutions[0].Confidence)
}

func TestResolveEntitySearchErrorPropagates(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("provider down")}
	engine := newTestEngine(t, searcher, &fakeFetcher{}, &fakeExtractor{}, nil, nil)

	_, err := engine.ResolveEntity(context.Background(), models.Query{Name: "Jane Smith"})
	assert.Error(t, err)
}

// inflightTracker records the peak number of simultaneous outbound
// calls across every site that shares the run's semaphore.
type inflightTracker struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (tr *inflightTracker) enter() {
	tr.mu.Lock()
	tr.current++
	if tr.current > tr.peak {
		tr.peak = tr.current
	}
	tr.mu.Unlock()
	time.Sleep(3 * time.Millisecond)
}

func (tr *inflightTracker) exit() {
	tr.mu.Lock()
	tr.current--
	tr.mu.Unlock()
}

type trackingProvider struct {
	tracker *inflightTracker
}

func (p *trackingProvider) Search(_ context.Context, query string, _ int) ([]models.EvidenceSource, error) {
	p.tracker.enter()
	defer p.tracker.exit()

	sources := make([]models.EvidenceSource, 3)
	for i := range sources {
		sources[i] = models.EvidenceSource{
			URL: fmt.Sprintf("https://example.org/%s/%d", url.PathEscape(query), i),
		}
	}
	return sources, nil
}

type trackingFetcher struct {
	tracker *inflightTracker
}

func (f *trackingFetcher) Fetch(_ context.Context, _ string) (string, error) {
	f.tracker.enter()
	defer f.tracker.exit()
	return "page", nil
}

func TestResolveEntitySearchAndFetchShareOneCeiling(t *testing.T) {
	const limit = 2
	tracker := &inflightTracker{}
	sem := semaphore.NewWeighted(limit)

	log := zap.NewNop()
	orchestrator := search.NewOrchestrator(&trackingProvider{tracker: tracker}, sem, 8, log)
	extractor := &fakeExtractor{extractions: map[string]*extract.RawExtraction{
		"page": {
			Name:        "Jane Smith",
			Role:        "cardiologist",
			Institution: "Springfield General",
			Confidence:  0.8,
			SourceKind:  "other",
		},
	}}

	engine := NewEngine(
		orchestrator,
		&trackingFetcher{tracker: tracker},
		extractor,
		extract.NewAdapter(domains.Empty(log)),
		verify.New(verify.DefaultMinScore, log),
		aggregate.New(log),
		nil,
		nil,
		sem,
		Config{QueryFanout: 4},
		log,
	)

	record, err := engine.ResolveEntity(context.Background(), models.Query{
		Name:        "Jane Smith",
		Role:        "cardiologist",
		Institution: "Springfield General",
		Locality:    "Springfield",
	})

	require.NoError(t, err)
	assert.True(t, record.Found())
	// Four search queries plus twelve fetches all went through the one
	// weighted semaphore: the combined in-flight count must never
	// exceed its weight.
	assert.LessOrEqual(t, tracker.peak, limit)
	assert.GreaterOrEqual(t, tracker.peak, 2, "calls never overlapped; the tracker saw no concurrency")
}

func TestResolveEntityServedFromCache(t *testing.T) {
	cached := &models.AggregatedRecord{
		QueryName:  "Jane Smith",
		Name:       models.FieldValue{Primary: "Jane Smith"},
		Confidence: 0.8,
	}
	searcher := &fakeSearcher{}
	cache := &fakeCache{records: map[string]*models.AggregatedRecord{}}
	engine := newTestEngine(t, searcher, &fakeFetcher{}, &fakeExtractor{}, nil, cache)

	// Prime the cache through a real key by resolving once via SetRecord's
	// own keying: store under the key the engine will compute.
	first, err := engine.ResolveEntity(context.Background(), models.Query{Name: "Jane Smith"})
	require.NoError(t, err)
	require.False(t, first.Found())

	for key := range cache.records {
		t.Fatalf("not-found record must not be cached, found key %q", key)
	}

	// Inject directly and confirm the short-circuit.
	cache.records[utils.QueryKey("Jane Smith", "", "", "", "")] = cached
	record, err := engine.ResolveEntity(context.Background(), models.Query{Name: "Jane Smith"})
	require.NoError(t, err)
	assert.Equal(t, 0.8, record.Confidence)
	assert.Len(t, searcher.calls, 1, "cache hit must not trigger a new search")
}
