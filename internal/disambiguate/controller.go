package disambiguate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/disambiguate/registry"
	"github.com/entity-resolver/backend/internal/storage/models"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("disambiguation session not found")
	// ErrSessionTerminal is returned when refining a finished session.
	ErrSessionTerminal = errors.New("disambiguation session already terminal")
	// ErrDimensionApplied guards the once-per-session rule: a
	// refinement dimension is never re-asked.
	ErrDimensionApplied = errors.New("refinement dimension already applied")
	// ErrUnexpectedDimension is returned when the caller supplies a
	// dimension other than the one requested.
	ErrUnexpectedDimension = errors.New("unexpected refinement dimension")
	// ErrNonMonotonic flags a registry whose result count grew after
	// narrowing; the session is left untouched.
	ErrNonMonotonic = errors.New("registry result count increased after narrowing")
)

// refinementOrder is the fixed sequence of narrowing dimensions:
// broad regional filter, then locality, then category/specialization.
var refinementOrder = []string{"region", "locality", "category"}

// Registry is the bulk-result external registry contract.
type Registry interface {
	Query(ctx context.Context, filters map[string]string) (*registry.Result, error)
}

// sessionEntry pairs a session with its own mutex so concurrent
// refinements of one session serialize without blocking other
// sessions during registry round-trips.
type sessionEntry struct {
	mu      sync.Mutex
	session *models.DisambiguationSession
}

// Controller drives the progressive-narrowing state machine against
// the registry and owns the live session set.
type Controller struct {
	registry Registry
	listCap  int
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

func NewController(reg Registry, listCap int, log *zap.Logger) *Controller {
	if listCap <= 0 {
		listCap = 10
	}
	return &Controller{
		registry: reg,
		listCap:  listCap,
		logger:   log,
		sessions: make(map[string]*sessionEntry),
	}
}

// Start opens a session with the base two-field query and evaluates
// the first registry snapshot.
func (c *Controller) Start(ctx context.Context, base models.BaseFilters) (*models.DisambiguationSession, error) {
	if base.GivenName == "" || base.Surname == "" {
		return nil, fmt.Errorf("base filters require given name and surname")
	}

	session := &models.DisambiguationSession{
		ID:        uuid.New().String(),
		Base:      base,
		Status:    models.StatusUnfiltered,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	result, err := c.registry.Query(ctx, filtersFor(session))
	if err != nil {
		return nil, fmt.Errorf("registry query failed: %w", err)
	}

	c.applySnapshot(session, result)

	c.mu.Lock()
	c.sessions[session.ID] = &sessionEntry{session: session}
	c.mu.Unlock()

	c.logger.Info("Disambiguation session started",
		zap.String("session_id", session.ID),
		zap.Int("count", session.ResultCount),
		zap.String("status", string(session.Status)),
	)

	return snapshot(session), nil
}

// ApplyFilter narrows the session by one refinement dimension. Each
// dimension is applied at most once, and the registry's result count
// must never grow across a narrowing step. The session's own mutex is
// held for the full check-query-mutate sequence so concurrent
// refinements of one session serialize.
func (c *Controller) ApplyFilter(ctx context.Context, sessionID, dimension, value string) (*models.DisambiguationSession, error) {
	entry, err := c.entry(sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	session := entry.session

	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if dimension != session.NextDimension {
		return nil, fmt.Errorf("%w: want %q, got %q", ErrUnexpectedDimension, session.NextDimension, dimension)
	}
	for _, applied := range session.Applied {
		if applied.Dimension == dimension {
			return nil, fmt.Errorf("%w: %s", ErrDimensionApplied, dimension)
		}
	}

	trial := *session
	trial.Applied = append(append([]models.RefinementFilter{}, session.Applied...),
		models.RefinementFilter{Dimension: dimension, Value: value})

	result, err := c.registry.Query(ctx, filtersFor(&trial))
	if err != nil {
		return nil, fmt.Errorf("registry query failed: %w", err)
	}
	if result.Count > session.ResultCount {
		return nil, fmt.Errorf("%w: %d -> %d", ErrNonMonotonic, session.ResultCount, result.Count)
	}

	session.Applied = trial.Applied
	session.Steps++
	c.applySnapshot(session, result)

	c.logger.Info("Disambiguation session narrowed",
		zap.String("session_id", session.ID),
		zap.String("dimension", dimension),
		zap.Int("count", session.ResultCount),
		zap.String("status", string(session.Status)),
	)

	return snapshot(session), nil
}

// Get returns a copy of the session, for callers presenting state.
func (c *Controller) Get(sessionID string) (*models.DisambiguationSession, error) {
	entry, err := c.entry(sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshot(entry.session), nil
}

// Resolved converts a Resolved session's single registry record into
// the precursor of an AggregatedRecord.
func (c *Controller) Resolved(sessionID string) (*models.AggregatedRecord, error) {
	session, err := c.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusResolved || len(session.Candidates) != 1 {
		return nil, fmt.Errorf("session %s is not resolved", sessionID)
	}

	r := session.Candidates[0]
	name := r.GivenName + " " + r.Surname
	return &models.AggregatedRecord{
		QueryName:   name,
		Name:        models.FieldValue{Primary: name},
		Role:        models.FieldValue{Primary: orUnknown(r.Category)},
		Institution: models.FieldValue{Primary: models.Unknown},
		Locality:    models.FieldValue{Primary: orUnknown(r.Locality)},
		Handle:      models.FieldValue{Primary: orUnknown(r.Handle)},
		Confidence:  1.0,
		SourceURLs:  []string{},
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (c *Controller) entry(sessionID string) (*sessionEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// applySnapshot evaluates the state transition for a fresh registry
// result. Terminal states: NotFound (zero), Resolved (exactly one),
// Ambiguous (still plural with no dimensions left). Otherwise the
// session narrows and requests the next unapplied dimension.
func (c *Controller) applySnapshot(session *models.DisambiguationSession, result *registry.Result) {
	session.ResultCount = result.Count
	session.Candidates = result.Records
	session.UpdatedAt = time.Now().UTC()
	session.NextDimension = ""

	switch {
	case result.Count == 0:
		session.Status = models.StatusNotFound
	case result.Count == 1:
		session.Status = models.StatusResolved
	default:
		next := nextDimension(session.Applied)
		if next == "" {
			session.Status = models.StatusAmbiguous
			session.Candidates = rankAndCap(result.Records, c.listCap)
			return
		}
		session.Status = models.StatusNarrowing
		session.NextDimension = next
	}
}

func nextDimension(applied []models.RefinementFilter) string {
	used := make(map[string]struct{}, len(applied))
	for _, f := range applied {
		used[f.Dimension] = struct{}{}
	}
	for _, dim := range refinementOrder {
		if _, ok := used[dim]; !ok {
			return dim
		}
	}
	return ""
}

// rankAndCap orders the ambiguous list by record completeness (more
// populated fields first, name as the stable key) and caps it for
// presentation.
func rankAndCap(records []models.RegistryRecord, limit int) []models.RegistryRecord {
	ranked := append([]models.RegistryRecord{}, records...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := completeness(ranked[i]), completeness(ranked[j])
		if ci != cj {
			return ci > cj
		}
		if ranked[i].Surname != ranked[j].Surname {
			return ranked[i].Surname < ranked[j].Surname
		}
		return ranked[i].GivenName < ranked[j].GivenName
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func completeness(r models.RegistryRecord) int {
	count := 0
	for _, v := range []string{r.Region, r.Locality, r.Category, r.Handle} {
		if v != "" && v != models.Unknown {
			count++
		}
	}
	return count
}

func filtersFor(session *models.DisambiguationSession) map[string]string {
	filters := map[string]string{
		"given_name": session.Base.GivenName,
		"surname":    session.Base.Surname,
	}
	for _, f := range session.Applied {
		filters[f.Dimension] = f.Value
	}
	return filters
}

// snapshot copies a session so handlers never share the controller's
// mutable state.
func snapshot(session *models.DisambiguationSession) *models.DisambiguationSession {
	copied := *session
	copied.Applied = append([]models.RefinementFilter{}, session.Applied...)
	copied.Candidates = append([]models.RegistryRecord{}, session.Candidates...)
	return &copied
}

func orUnknown(v string) string {
	if v == "" {
		return models.Unknown
	}
	return v
}
