package domains

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/storage/models"
)

func loadTable(t *testing.T, yaml string) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	table, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	return table
}

func TestLoadParsesEntries(t *testing.T) {
	table := loadTable(t, `domains:
  - domain: nhs.uk
    institution: National Health Service
    locality: United Kingdom
    source_kind: registry
    confidence: 0.7
  - domain: healthgrades.com
    institution: Healthgrades
    source_kind: directory
    confidence: 0.5
`)

	assert.Equal(t, 2, table.Len())

	entry, ok := table.Lookup("https://www.nhs.uk/profiles/x")
	require.True(t, ok)
	assert.Equal(t, "National Health Service", entry.Institution)
	assert.Equal(t, models.KindRegistry, entry.Kind())
}

func TestLookupFallsBackToParentDomain(t *testing.T) {
	table := loadTable(t, `domains:
  - domain: stanford.edu
    institution: Stanford University
    source_kind: academic
    confidence: 0.5
`)

	entry, ok := table.Lookup("https://profiles.med.stanford.edu/jane")
	require.True(t, ok)
	assert.Equal(t, "Stanford University", entry.Institution)

	_, ok = table.Lookup("https://stanford.example.com/jane")
	assert.False(t, ok)
}

func TestLookupRejectsUnparseableURLs(t *testing.T) {
	table := loadTable(t, `domains:
  - domain: example.org
    institution: Example
    source_kind: other
    confidence: 0.4
`)

	_, ok := table.Lookup("not a url")
	assert.False(t, ok)
	_, ok = table.Lookup("")
	assert.False(t, ok)
}

func TestLoadDefaultsOutOfRangeConfidence(t *testing.T) {
	table := loadTable(t, `domains:
  - domain: a.example.org
    institution: A
    source_kind: other
    confidence: 1.5
  - domain: b.example.org
    institution: B
    source_kind: other
    confidence: -1
`)

	a, ok := table.Lookup("https://a.example.org/")
	require.True(t, ok)
	assert.Equal(t, 0.4, a.Confidence)

	b, ok := table.Lookup("https://b.example.org/")
	require.True(t, ok)
	assert.Equal(t, 0.4, b.Confidence)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}

func TestEntryKindDefaultsToOther(t *testing.T) {
	assert.Equal(t, models.KindOther, Entry{SourceKind: "blog"}.Kind())
	assert.Equal(t, models.KindInstitutional, Entry{SourceKind: "institutional"}.Kind())
}
