package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listConversationsHandler handles GET /api/conversations/by-universe/:id.
func (s *Server) listConversationsHandler(c *echo.Context) error {
	universeID := c.Param("id")
	if universeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "universe id is required")
	}

	conversations, err := s.conversations.ListByUniverse(c.Request().Context(), universeID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, conversations)
}

// listTurnsHandler handles GET /api/conversations/:id/turns.
func (s *Server) listTurnsHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	turns, err := s.conversations.ListTurns(c.Request().Context(), conversationID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, turns)
}

// getTurnHandler handles GET /api/conversations/:id/turns/:turn_id.
func (s *Server) getTurnHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	turnID := c.Param("turn_id")
	if conversationID == "" || turnID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id and turn id are required")
	}

	turn, err := s.conversations.GetTurn(c.Request().Context(), conversationID, turnID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, turn)
}
