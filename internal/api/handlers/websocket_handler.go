package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/entity-resolver/backend/internal/disambiguate"
	"github.com/entity-resolver/backend/internal/storage/models"
)

// WebSocketHandler drives an interactive disambiguation conversation:
// the client opens a session, the server asks for one refinement
// dimension at a time, and the exchange ends at a terminal state.
type WebSocketHandler struct {
	controller *disambiguate.Controller
	logger     *zap.Logger
}

func NewWebSocketHandler(controller *disambiguate.Controller, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{controller: controller, logger: log}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	h.logger.Info("WebSocket connection established")
	defer func() {
		c.Close()
		h.logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			GivenName string `json:"given_name"`
			Surname   string `json:"surname"`
			Dimension string `json:"dimension"`
			Value     string `json:"value"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			h.logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		var (
			session *models.DisambiguationSession
			err     error
		)

		switch msg.Type {
		case "start":
			session, err = h.controller.Start(context.Background(), models.BaseFilters{
				GivenName: msg.GivenName,
				Surname:   msg.Surname,
			})
		case "filter":
			session, err = h.controller.ApplyFilter(context.Background(), msg.SessionID, msg.Dimension, msg.Value)
		default:
			h.sendError(c, "Unknown message type")
			continue
		}

		if err != nil {
			h.logger.Warn("WebSocket disambiguation step failed", zap.Error(err))
			h.sendError(c, err.Error())
			continue
		}

		h.sendSession(c, session)
	}
}

func (h *WebSocketHandler) sendSession(c *websocket.Conn, session *models.DisambiguationSession) {
	msg := map[string]interface{}{
		"type":           "session",
		"session_id":     session.ID,
		"status":         session.Status,
		"result_count":   session.ResultCount,
		"next_dimension": session.NextDimension,
	}
	if session.Status.Terminal() {
		msg["type"] = "complete"
		msg["candidates"] = session.Candidates
	}

	if err := c.WriteJSON(msg); err != nil {
		h.logger.Warn("Failed to write WebSocket message", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
