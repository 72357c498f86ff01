package aggregate

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/storage/models"
)

// kindWeights are the trust tiers used to rank candidate values:
// authoritative origins outrank general web pages.
var kindWeights = map[models.SourceKind]float64{
	models.KindRegistry:      1.0,
	models.KindInstitutional: 0.95,
	models.KindDirectory:     0.9,
	models.KindAcademic:      0.85,
	models.KindOther:         0.7,
}

// hintBonus is added to a field's score when the candidate's value
// exactly matches the query hint for that field.
const hintBonus = 0.15

// field binds an output field to its candidate accessor and the query
// hint it can be checked against.
type field struct {
	name string
	get  func(models.Candidate) string
	hint func(models.Query) string
}

var fields = []field{
	{"name", func(c models.Candidate) string { return c.Name }, func(q models.Query) string { return q.Name }},
	{"role", func(c models.Candidate) string { return c.Role }, func(q models.Query) string { return q.Role }},
	{"institution", func(c models.Candidate) string { return c.Institution }, func(q models.Query) string { return q.Institution }},
	{"locality", func(c models.Candidate) string { return c.Locality }, func(q models.Query) string { return q.Locality }},
	{"handle", func(c models.Candidate) string { return c.Handle }, func(q models.Query) string { return q.Handle }},
}

// Aggregator reconciles accepted candidates into one record. It is
// deliberately order-independent: permuting the candidate list never
// changes the output.
type Aggregator struct {
	logger *zap.Logger
}

func New(log *zap.Logger) *Aggregator {
	return &Aggregator{logger: log}
}

// Aggregate discards rejected candidates and merges the survivors.
// Zero survivors yields the valid not-found record: confidence 0 and
// every field set to the Unknown sentinel.
func (a *Aggregator) Aggregate(q models.Query, candidates []models.Candidate, verifications []models.VerificationResult) models.AggregatedRecord {
	survivors := make([]models.Candidate, 0, len(candidates))
	for i, c := range candidates {
		if i < len(verifications) && verifications[i].Accepted {
			survivors = append(survivors, c)
		}
	}

	if len(survivors) == 0 {
		a.logger.Info("No surviving candidates, returning not-found record",
			zap.String("query", q.Name),
		)
		return notFoundRecord(q)
	}

	// Canonical order makes every later strictly-greater comparison
	// independent of input permutation: newest extraction first, URL
	// as the final deterministic key.
	sort.SliceStable(survivors, func(i, j int) bool {
		if !survivors[i].ExtractedAt.Equal(survivors[j].ExtractedAt) {
			return survivors[i].ExtractedAt.After(survivors[j].ExtractedAt)
		}
		return survivors[i].SourceURL < survivors[j].SourceURL
	})

	record := models.AggregatedRecord{
		QueryName: q.Name,
		CreatedAt: time.Now().UTC(),
	}

	var overall float64
	for _, f := range fields {
		value, score := a.pickField(q, f, survivors)
		switch f.name {
		case "name":
			record.Name = value
		case "role":
			record.Role = value
		case "institution":
			record.Institution = value
		case "locality":
			record.Locality = value
		case "handle":
			record.Handle = value
		}
		if score > overall {
			overall = score
		}
	}

	record.Confidence = clamp01(overall)
	record.SourceURLs = sourceURLs(survivors)

	a.logger.Info("Candidates aggregated",
		zap.String("query", q.Name),
		zap.Int("survivors", len(survivors)),
		zap.Float64("confidence", record.Confidence),
	)

	return record
}

// pickField ranks survivors for one field and returns the winning
// value with alternates, plus the winning combined score.
func (a *Aggregator) pickField(q models.Query, f field, survivors []models.Candidate) (models.FieldValue, float64) {
	primary := models.Unknown
	best := -1.0
	distinct := map[string]string{}

	for _, c := range survivors {
		value := f.get(c)
		if value == models.Unknown || value == "" {
			continue
		}

		key := strings.ToLower(value)
		if _, ok := distinct[key]; !ok {
			distinct[key] = value
		}

		score := combinedScore(q, f, c)
		if score > best {
			best = score
			primary = value
		}
	}

	if primary == models.Unknown {
		return models.FieldValue{Primary: models.Unknown}, 0
	}

	alternates := make([]string, 0, len(distinct))
	for key, value := range distinct {
		if key == strings.ToLower(primary) {
			continue
		}
		alternates = append(alternates, value)
	}
	sort.Strings(alternates)

	return models.FieldValue{Primary: primary, Alternates: alternates}, best
}

// combinedScore is candidate confidence weighted by source trust, plus
// the exact-hint bonus for this field.
func combinedScore(q models.Query, f field, c models.Candidate) float64 {
	weight, ok := kindWeights[c.SourceKind]
	if !ok {
		weight = kindWeights[models.KindOther]
	}

	score := c.Confidence * weight
	if hint := f.hint(q); hint != "" && strings.EqualFold(hint, f.get(c)) {
		score += hintBonus
	}
	return score
}

func sourceURLs(survivors []models.Candidate) []string {
	seen := make(map[string]struct{}, len(survivors))
	urls := make([]string, 0, len(survivors))
	for _, c := range survivors {
		if _, ok := seen[c.SourceURL]; ok {
			continue
		}
		seen[c.SourceURL] = struct{}{}
		urls = append(urls, c.SourceURL)
	}
	sort.Strings(urls)
	return urls
}

func notFoundRecord(q models.Query) models.AggregatedRecord {
	unknown := models.FieldValue{Primary: models.Unknown}
	return models.AggregatedRecord{
		QueryName:   q.Name,
		Name:        unknown,
		Role:        unknown,
		Institution: unknown,
		Locality:    unknown,
		Handle:      unknown,
		Confidence:  0,
		SourceURLs:  []string{},
		CreatedAt:   time.Now().UTC(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
