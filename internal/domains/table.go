package domains

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/entity-resolver/backend/internal/storage/models"
)

// Entry describes what can be inferred about an entity purely from a
// page living under a known domain.
type Entry struct {
	Domain      string  `yaml:"domain"`
	Institution string  `yaml:"institution"`
	Locality    string  `yaml:"locality"`
	SourceKind  string  `yaml:"source_kind"`
	Confidence  float64 `yaml:"confidence"`
}

type tableFile struct {
	Domains []Entry `yaml:"domains"`
}

// Table maps hostnames to inferable facts. It is loaded from a data
// file so new domains can be added without touching verifier or
// aggregator logic.
type Table struct {
	entries map[string]Entry
	logger  *zap.Logger
}

// Load reads the YAML domain table at path.
func Load(path string, log *zap.Logger) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain table: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse domain table: %w", err)
	}

	entries := make(map[string]Entry, len(file.Domains))
	for _, e := range file.Domains {
		domain := strings.ToLower(strings.TrimSpace(e.Domain))
		if domain == "" {
			continue
		}
		if e.Confidence <= 0 || e.Confidence > 1 {
			e.Confidence = 0.4
		}
		entries[domain] = e
	}

	log.Info("Domain table loaded", zap.String("path", path), zap.Int("entries", len(entries)))

	return &Table{entries: entries, logger: log}, nil
}

// Empty returns a table with no entries, for callers that run without
// a data file.
func Empty(log *zap.Logger) *Table {
	return &Table{entries: map[string]Entry{}, logger: log}
}

// Lookup matches the URL's hostname against the table, trying the full
// host first and then parent domains (profiles.example.edu falls back
// to example.edu).
func (t *Table) Lookup(rawURL string) (Entry, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return Entry{}, false
	}

	host := strings.ToLower(u.Hostname())
	labels := strings.Split(host, ".")
	for i := 0; i < len(labels)-1; i++ {
		candidate := strings.Join(labels[i:], ".")
		if entry, ok := t.entries[candidate]; ok {
			return entry, true
		}
	}

	return Entry{}, false
}

// Kind converts the entry's source-kind tag into the model enum,
// defaulting to "other" for unrecognized tags.
func (e Entry) Kind() models.SourceKind {
	switch models.SourceKind(e.SourceKind) {
	case models.KindRegistry, models.KindInstitutional, models.KindDirectory, models.KindAcademic:
		return models.SourceKind(e.SourceKind)
	default:
		return models.KindOther
	}
}

// Len reports the number of loaded entries.
func (t *Table) Len() int {
	return len(t.entries)
}
