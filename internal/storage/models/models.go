package models

import (
	"errors"
	"time"
)

// Unknown is the sentinel value for a declared field with no evidence.
// Fields are never left empty or omitted.
const Unknown = "unknown"

// ErrEmptyName is returned for a Query with no canonical name. It is the
// only configuration error in the resolution path and is raised before
// any network call.
var ErrEmptyName = errors.New("query name is required")

// Query identifies the entity being resolved. Name is required; every
// hint is optional. A Query is immutable once issued.
type Query struct {
	Name        string
	Role        string
	Institution string
	Locality    string
	Handle      string
}

// Validate rejects malformed queries before any I/O happens.
func (q Query) Validate() error {
	if q.Name == "" {
		return ErrEmptyName
	}
	return nil
}

// EvidenceSource is one raw search hit, keyed by URL. It lives for a
// single resolution run.
type EvidenceSource struct {
	URL     string
	Title   string
	Snippet string
}

// SourceKind is the coarse trust tier of a Candidate's origin.
type SourceKind string

const (
	KindRegistry      SourceKind = "registry"
	KindInstitutional SourceKind = "institutional"
	KindDirectory     SourceKind = "directory"
	KindAcademic      SourceKind = "academic"
	KindOther         SourceKind = "other"
)

// CandidateOrigin records how a Candidate was constructed. A candidate
// is either produced fully by the extraction collaborator or synthesized
// fully from the URL-pattern table, never patched after the fact.
type CandidateOrigin string

const (
	OriginExtracted CandidateOrigin = "extracted"
	OriginInferred  CandidateOrigin = "inferred"
)

// Candidate is a single source's normalized fact-set about the queried
// entity. All declared fields are present; absent evidence is the
// Unknown sentinel. Confidence is in [0,1].
type Candidate struct {
	Name        string
	Role        string
	Institution string
	Locality    string
	Handle      string
	SourceText  string
	Confidence  float64
	SourceKind  SourceKind
	SourceURL   string
	Origin      CandidateOrigin
	ExtractedAt time.Time
}

// Factor is one human-readable contribution to a verification score.
type Factor struct {
	Description string
	Delta       float64
}

// VerificationResult is the verifier's judgment of whether a Candidate
// refers to the Query's entity.
type VerificationResult struct {
	Score    float64
	Accepted bool
	Factors  []Factor
}

// FieldValue holds the chosen value for one output field plus the
// distinct alternates observed from other accepted candidates.
type FieldValue struct {
	Primary    string
	Alternates []string
}

// AggregatedRecord is the final reconciled answer for one Query. It is
// immutable after creation; a new run produces a new record.
type AggregatedRecord struct {
	QueryName   string
	Name        FieldValue
	Role        FieldValue
	Institution FieldValue
	Locality    FieldValue
	Handle      FieldValue
	Confidence  float64
	SourceURLs  []string
	CreatedAt   time.Time
}

// Found reports whether the record carries any evidence at all.
func (r AggregatedRecord) Found() bool {
	return r.Confidence > 0
}

// SessionStatus is the lifecycle state of a disambiguation session.
type SessionStatus string

const (
	StatusUnfiltered SessionStatus = "unfiltered"
	StatusNarrowing  SessionStatus = "narrowing"
	StatusResolved   SessionStatus = "resolved"
	StatusAmbiguous  SessionStatus = "ambiguous"
	StatusNotFound   SessionStatus = "not_found"
)

// Terminal reports whether the session can accept further refinement.
func (s SessionStatus) Terminal() bool {
	return s == StatusResolved || s == StatusAmbiguous || s == StatusNotFound
}

// BaseFilters is the two-field query that opens a disambiguation
// session against the registry.
type BaseFilters struct {
	GivenName string
	Surname   string
}

// RefinementFilter is one applied narrowing dimension.
type RefinementFilter struct {
	Dimension string
	Value     string
}

// RegistryRecord is one entry returned by the external registry.
type RegistryRecord struct {
	ID        string
	GivenName string
	Surname   string
	Region    string
	Locality  string
	Category  string
	Handle    string
}

// DisambiguationSession is the mutable state of one progressive
// narrowing conversation. Candidates holds the current snapshot;
// ResultCount is its size before any presentation cap.
type DisambiguationSession struct {
	ID            string
	Base          BaseFilters
	Applied       []RefinementFilter
	NextDimension string
	Candidates    []RegistryRecord
	ResultCount   int
	Status        SessionStatus
	Steps         int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ResolutionRecord is the persisted audit row for one resolution run.
type ResolutionRecord struct {
	ID           string
	EntityName   string
	Hints        string
	Confidence   float64
	SourcesTotal int
	SourcesUsed  int
	CacheHit     bool
	LatencyMS    int
	CreatedAt    time.Time
}

// ResolutionSource is the per-URL audit row attached to a run.
type ResolutionSource struct {
	ID           int
	ResolutionID string
	SourceURL    string
	SourceKind   string
	Origin       string
	Score        float64
	Accepted     bool
}
