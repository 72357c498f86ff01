package extract

import (
	"strings"
	"time"

	"github.com/entity-resolver/backend/internal/domains"
	"github.com/entity-resolver/backend/internal/storage/models"
)

// snippetLen caps the source-text excerpt carried on a Candidate for
// verification.
const snippetLen = 2000

// Adapter normalizes collaborator output into the Candidate shape. It
// performs no identity judgment; that belongs to the verifier.
type Adapter struct {
	table *domains.Table
}

func NewAdapter(table *domains.Table) *Adapter {
	return &Adapter{table: table}
}

// Normalize coerces a raw extraction into a fully-populated Candidate:
// missing fields become the Unknown sentinel and confidence is clamped
// into [0,1]. The candidate is complete at construction and never
// patched afterwards.
func (a *Adapter) Normalize(raw *RawExtraction, sourceText, sourceURL string) models.Candidate {
	return models.Candidate{
		Name:        orUnknown(raw.Name),
		Role:        orUnknown(raw.Role),
		Institution: orUnknown(raw.Institution),
		Locality:    orUnknown(raw.Locality),
		Handle:      orUnknown(raw.Handle),
		SourceText:  truncate(sourceText, snippetLen),
		Confidence:  clamp01(raw.Confidence),
		SourceKind:  normalizeKind(raw.SourceKind),
		SourceURL:   sourceURL,
		Origin:      models.OriginExtracted,
		ExtractedAt: time.Now().UTC(),
	}
}

// InferFromURL synthesizes a complete Candidate purely from the URL's
// domain when the page could not be fetched or extracted. The queried
// name is carried as the subject since the domain table has no name
// evidence of its own.
func (a *Adapter) InferFromURL(q models.Query, sourceURL string) (models.Candidate, bool) {
	entry, ok := a.table.Lookup(sourceURL)
	if !ok {
		return models.Candidate{}, false
	}

	return models.Candidate{
		Name:        q.Name,
		Role:        models.Unknown,
		Institution: orUnknown(entry.Institution),
		Locality:    orUnknown(entry.Locality),
		Handle:      models.Unknown,
		SourceText:  "",
		Confidence:  clamp01(entry.Confidence),
		SourceKind:  entry.Kind(),
		SourceURL:   sourceURL,
		Origin:      models.OriginInferred,
		ExtractedAt: time.Now().UTC(),
	}, true
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return models.Unknown
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
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

func normalizeKind(kind string) models.SourceKind {
	switch models.SourceKind(strings.ToLower(strings.TrimSpace(kind))) {
	case models.KindRegistry:
		return models.KindRegistry
	case models.KindInstitutional:
		return models.KindInstitutional
	case models.KindDirectory:
		return models.KindDirectory
	case models.KindAcademic:
		return models.KindAcademic
	default:
		return models.KindOther
	}
}
