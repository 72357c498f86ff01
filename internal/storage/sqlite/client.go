package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/storage/models"
)

// Client persists the audit trail of resolution runs: one row per run
// plus one row per evidence source consulted.
type Client struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewClient(dbPath string, log *zap.Logger) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	log.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, logger: log}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resolutions (
		id TEXT PRIMARY KEY,
		entity_name TEXT NOT NULL,
		hints TEXT,
		confidence REAL NOT NULL,
		sources_total INTEGER NOT NULL,
		sources_used INTEGER NOT NULL,
		cache_hit INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resolutions_entity ON resolutions(entity_name);
	CREATE INDEX IF NOT EXISTS idx_resolutions_created ON resolutions(created_at);

	CREATE TABLE IF NOT EXISTS resolution_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		resolution_id TEXT NOT NULL,
		source_url TEXT NOT NULL,
		source_kind TEXT,
		origin TEXT,
		score REAL,
		accepted INTEGER NOT NULL,
		FOREIGN KEY (resolution_id) REFERENCES resolutions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_resolution ON resolution_sources(resolution_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (c *Client) InsertResolution(record *models.ResolutionRecord) error {
	_, err := c.db.Exec(`
		INSERT INTO resolutions
			(id, entity_name, hints, confidence, sources_total, sources_used, cache_hit, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.EntityName,
		record.Hints,
		record.Confidence,
		record.SourcesTotal,
		record.SourcesUsed,
		boolToInt(record.CacheHit),
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert resolution: %w", err)
	}
	return nil
}

func (c *Client) InsertResolutionSource(source *models.ResolutionSource) error {
	_, err := c.db.Exec(`
		INSERT INTO resolution_sources
			(resolution_id, source_url, source_kind, origin, score, accepted)
		VALUES (?, ?, ?, ?, ?, ?)`,
		source.ResolutionID,
		source.SourceURL,
		source.SourceKind,
		source.Origin,
		source.Score,
		boolToInt(source.Accepted),
	)
	if err != nil {
		return fmt.Errorf("failed to insert resolution source: %w", err)
	}
	return nil
}

// RecentResolutions returns the newest runs for an entity name, most
// recent first.
func (c *Client) RecentResolutions(entityName string, limit int) ([]models.ResolutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.db.Query(`
		SELECT id, entity_name, hints, confidence, sources_total, sources_used, cache_hit, latency_ms, created_at
		FROM resolutions
		WHERE entity_name = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		entityName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolutions: %w", err)
	}
	defer rows.Close()

	var records []models.ResolutionRecord
	for rows.Next() {
		var r models.ResolutionRecord
		var cacheHit int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.EntityName, &r.Hints, &r.Confidence, &r.SourcesTotal, &r.SourcesUsed, &cacheHit, &r.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		r.CacheHit = cacheHit != 0
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, r)
	}

	return records, rows.Err()
}

// SourcesForResolution returns the per-URL audit rows of one run.
func (c *Client) SourcesForResolution(resolutionID string) ([]models.ResolutionSource, error) {
	rows, err := c.db.Query(`
		SELECT id, resolution_id, source_url, source_kind, origin, score, accepted
		FROM resolution_sources
		WHERE resolution_id = ?
		ORDER BY id`,
		resolutionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolution sources: %w", err)
	}
	defer rows.Close()

	var sources []models.ResolutionSource
	for rows.Next() {
		var s models.ResolutionSource
		var accepted int
		if err := rows.Scan(&s.ID, &s.ResolutionID, &s.SourceURL, &s.SourceKind, &s.Origin, &s.Score, &accepted); err != nil {
			return nil, fmt.Errorf("failed to scan resolution source: %w", err)
		}
		s.Accepted = accepted != 0
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
