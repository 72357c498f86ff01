package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/resolve"
	"github.com/entity-resolver/backend/internal/storage/models"
)

// HistoryStore reads the persisted audit trail of resolution runs.
type HistoryStore interface {
	RecentResolutions(entityName string, limit int) ([]models.ResolutionRecord, error)
	SourcesForResolution(resolutionID string) ([]models.ResolutionSource, error)
}

// CacheInvalidator drops cached records after scoring inputs change
// (domain table edits, weight tuning).
type CacheInvalidator interface {
	InvalidateRecords(ctx context.Context) error
}

type ResolveHandler struct {
	engine *resolve.Engine
	store  HistoryStore
	cache  CacheInvalidator
	logger *zap.Logger
}

func NewResolveHandler(engine *resolve.Engine, store HistoryStore, cache CacheInvalidator, log *zap.Logger) *ResolveHandler {
	return &ResolveHandler{engine: engine, store: store, cache: cache, logger: log}
}

func (h *ResolveHandler) HandleResolve(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Role        string `json:"role"`
		Institution string `json:"institution"`
		Locality    string `json:"locality"`
		Handle      string `json:"handle"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	record, err := h.engine.ResolveEntity(c.Context(), models.Query{
		Name:        req.Name,
		Role:        req.Role,
		Institution: req.Institution,
		Locality:    req.Locality,
		Handle:      req.Handle,
	})
	if err != nil {
		if errors.Is(err, models.ErrEmptyName) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		h.logger.Error("Resolution failed", zap.String("entity", req.Name), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve entity",
		})
	}

	return c.JSON(recordResponse(record))
}

func (h *ResolveHandler) GetHistory(c *fiber.Ctx) error {
	entity := c.Query("entity")
	if entity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "entity is required",
		})
	}

	records, err := h.store.RecentResolutions(entity, c.QueryInt("limit", 20))
	if err != nil {
		h.logger.Error("Failed to load resolution history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	return c.JSON(fiber.Map{
		"entity":  entity,
		"history": records,
	})
}

// GetRunSources returns the per-URL audit rows of one resolution run:
// every source consulted, its kind and origin, and whether the
// verifier accepted it.
func (h *ResolveHandler) GetRunSources(c *fiber.Ctx) error {
	sources, err := h.store.SourcesForResolution(c.Params("id"))
	if err != nil {
		h.logger.Error("Failed to load resolution sources", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load sources",
		})
	}
	if len(sources) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No sources for resolution",
		})
	}

	return c.JSON(fiber.Map{
		"resolution_id": c.Params("id"),
		"sources":       sources,
	})
}

// InvalidateCache drops every cached record.
func (h *ResolveHandler) InvalidateCache(c *fiber.Ctx) error {
	if h.cache == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Cache is not configured",
		})
	}

	if err := h.cache.InvalidateRecords(c.Context()); err != nil {
		h.logger.Error("Failed to invalidate record cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to invalidate cache",
		})
	}

	return c.JSON(fiber.Map{"status": "invalidated"})
}

func recordResponse(record *models.AggregatedRecord) fiber.Map {
	return fiber.Map{
		"query_name":  record.QueryName,
		"found":       record.Found(),
		"name":        fieldResponse(record.Name),
		"role":        fieldResponse(record.Role),
		"institution": fieldResponse(record.Institution),
		"locality":    fieldResponse(record.Locality),
		"handle":      fieldResponse(record.Handle),
		"confidence":  record.Confidence,
		"sources":     record.SourceURLs,
		"created_at":  record.CreatedAt,
	}
}

func fieldResponse(f models.FieldValue) fiber.Map {
	return fiber.Map{
		"primary":    f.Primary,
		"alternates": f.Alternates,
	}
}
