package verify

import (
	"fmt"
	"strings"
	"unicode"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/storage/models"
)

// Scoring weights. Evidence is additive; contradiction is negative;
// the final score is clamped into [0,1].
const (
	weightNameFull     = 0.50
	weightNameStrong   = 0.30
	weightNamePartial  = 0.15
	weightInstStrong   = 0.25
	weightInstPartial  = 0.10
	weightInstMissing  = -0.15
	weightHandle       = 0.20
	weightRoleHint     = 0.10
	weightCredential   = 0.05
	weightContext      = 0.03
	nameStrongFraction = 0.6
	nameRejectFraction = 1.0 / 3.0
	instStrongFraction = 0.6
)

// DefaultMinScore is the acceptance gate. Historical variants of this
// scorer used 0.3 and 0.5; 0.5 is the calibrated choice so that a
// bare partial name match never passes on its own.
const DefaultMinScore = 0.5

// credentialMarkers are professional-title and certification tokens
// worth a small bonus when present in the candidate text.
var credentialMarkers = []string{
	"dr.", "phd", "m.d.", "md,", "prof.", "professor",
	"board-certified", "board certified", "licensed", "fellow of",
}

// contextKeywords are general domain-context words worth the smallest
// bonus.
var contextKeywords = []string{
	"clinic", "practice", "department", "faculty", "university",
	"hospital", "institute", "research", "laboratory",
}

// Verifier scores whether a Candidate actually refers to the queried
// entity. Verify is pure: the same inputs always produce the same
// result.
type Verifier struct {
	minScore float64
	logger   *zap.Logger
}

func New(minScore float64, log *zap.Logger) *Verifier {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Verifier{minScore: minScore, logger: log}
}

// Verify applies the weighted-evidence scoring. Name overlap below a
// third of the query tokens is a hard gate: the candidate is rejected
// with score 0 regardless of every other factor.
func (v *Verifier) Verify(q models.Query, c models.Candidate) models.VerificationResult {
	var factors []models.Factor
	add := func(desc string, delta float64) {
		factors = append(factors, models.Factor{Description: desc, Delta: delta})
	}

	queryTokens := tokenize(q.Name)
	candTokens := tokenize(c.Name)
	overlap := overlapFraction(queryTokens, candTokens)

	haystack := strings.ToLower(c.Name + " " + c.Role + " " + c.Institution + " " +
		c.Locality + " " + c.SourceText)

	switch {
	case overlap < nameRejectFraction:
		add(fmt.Sprintf("name overlap %.2f below identity gate, rejected", overlap), 0)
		return models.VerificationResult{Score: 0, Accepted: false, Factors: factors}
	case overlap >= 1.0 && containsEither(q.Name, c.Name):
		add("full name match", weightNameFull)
	case overlap >= nameStrongFraction:
		add(fmt.Sprintf("strong name token overlap %.2f", overlap), weightNameStrong)
	default:
		add(fmt.Sprintf("partial name token overlap %.2f", overlap), weightNamePartial)
	}

	if q.Institution != "" {
		instOverlap := overlapFraction(tokenize(q.Institution), tokenize(c.Institution))
		switch {
		case instOverlap >= instStrongFraction:
			add("institution hint matched", weightInstStrong)
		case instOverlap > 0:
			add("institution hint partially matched", weightInstPartial)
		case strings.Contains(haystack, strings.ToLower(q.Institution)):
			add("institution hint found in source text", weightInstPartial)
		default:
			// An institution the query asserts but the candidate never
			// mentions is contradiction, not neutral absence.
			add("institution hint absent from candidate", weightInstMissing)
		}
	}

	if q.Handle != "" {
		if strings.Contains(haystack, strings.ToLower(q.Handle)) {
			add("external handle found verbatim", weightHandle)
		}
	}

	if q.Role != "" && overlapFraction(tokenize(q.Role), tokenize(c.Role)) > 0 {
		add("role hint matched", weightRoleHint)
	}

	for _, marker := range credentialMarkers {
		if strings.Contains(haystack, marker) {
			add("credential marker present", weightCredential)
			break
		}
	}

	for _, keyword := range contextKeywords {
		if strings.Contains(haystack, keyword) {
			add("domain-context keyword present", weightContext)
			break
		}
	}

	score := 0.0
	for _, f := range factors {
		score += f.Delta
	}
	score = clamp01(score)

	accepted := score >= v.minScore
	if !accepted {
		add(fmt.Sprintf("score %.2f below minimum gate %.2f", score, v.minScore), 0)
	}

	v.logger.Debug("Candidate verified",
		zap.String("query", q.Name),
		zap.String("candidate", c.Name),
		zap.String("url", c.SourceURL),
		zap.Float64("score", score),
		zap.Bool("accepted", accepted),
	)

	return models.VerificationResult{Score: score, Accepted: accepted, Factors: factors}
}

// tokenize lowercases and splits text into word tokens, preferring the
// prose tokenizer and falling back to whitespace splitting.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	if strings.TrimSpace(text) == "" || text == models.Unknown {
		return tokens
	}

	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err == nil {
		for _, tok := range doc.Tokens() {
			if word := normalizeToken(tok.Text); word != "" {
				tokens[word] = struct{}{}
			}
		}
		return tokens
	}

	for _, field := range strings.Fields(text) {
		if word := normalizeToken(field); word != "" {
			tokens[word] = struct{}{}
		}
	}
	return tokens
}

func normalizeToken(tok string) string {
	tok = strings.ToLower(strings.TrimFunc(tok, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
	if len(tok) < 2 {
		return ""
	}
	return tok
}

// overlapFraction is the fraction of reference tokens present in the
// candidate set.
func overlapFraction(reference, candidate map[string]struct{}) float64 {
	if len(reference) == 0 {
		return 0
	}
	matched := 0
	for tok := range reference {
		if _, ok := candidate[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(reference))
}

func containsEither(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(la, lb) || strings.Contains(lb, la)
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
