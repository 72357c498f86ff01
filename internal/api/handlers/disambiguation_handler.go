package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/disambiguate"
	"github.com/entity-resolver/backend/internal/metrics"
	"github.com/entity-resolver/backend/internal/storage/models"
)

type DisambiguationHandler struct {
	controller *disambiguate.Controller
	logger     *zap.Logger
}

func NewDisambiguationHandler(controller *disambiguate.Controller, log *zap.Logger) *DisambiguationHandler {
	return &DisambiguationHandler{controller: controller, logger: log}
}

func (h *DisambiguationHandler) StartSession(c *fiber.Ctx) error {
	var req struct {
		GivenName string `json:"given_name"`
		Surname   string `json:"surname"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	session, err := h.controller.Start(c.Context(), models.BaseFilters{
		GivenName: req.GivenName,
		Surname:   req.Surname,
	})
	if err != nil {
		h.logger.Error("Failed to start disambiguation session", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to query registry",
		})
	}

	h.observeTerminal(session)
	return c.JSON(sessionResponse(session))
}

func (h *DisambiguationHandler) ApplyFilter(c *fiber.Ctx) error {
	var req struct {
		Dimension string `json:"dimension"`
		Value     string `json:"value"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	session, err := h.controller.ApplyFilter(c.Context(), c.Params("id"), req.Dimension, req.Value)
	if err != nil {
		return h.filterError(c, err)
	}

	h.observeTerminal(session)
	return c.JSON(sessionResponse(session))
}

func (h *DisambiguationHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.controller.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	return c.JSON(sessionResponse(session))
}

func (h *DisambiguationHandler) filterError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, disambiguate.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	case errors.Is(err, disambiguate.ErrSessionTerminal),
		errors.Is(err, disambiguate.ErrDimensionApplied),
		errors.Is(err, disambiguate.ErrUnexpectedDimension):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, disambiguate.ErrNonMonotonic):
		h.logger.Error("Registry violated narrowing contract", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Registry returned inconsistent results"})
	default:
		h.logger.Error("Failed to apply refinement filter", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to query registry"})
	}
}

func (h *DisambiguationHandler) observeTerminal(session *models.DisambiguationSession) {
	if !session.Status.Terminal() {
		return
	}
	metrics.DisambiguationOutcome.WithLabelValues(string(session.Status)).Inc()
	metrics.DisambiguationSteps.Observe(float64(session.Steps))
}

func sessionResponse(session *models.DisambiguationSession) fiber.Map {
	resp := fiber.Map{
		"id":             session.ID,
		"status":         session.Status,
		"result_count":   session.ResultCount,
		"steps":          session.Steps,
		"applied":        session.Applied,
		"next_dimension": session.NextDimension,
	}
	if session.Status.Terminal() {
		resp["candidates"] = session.Candidates
	}
	return resp
}
