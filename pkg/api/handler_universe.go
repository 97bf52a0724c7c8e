package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mecanolabs/jarvis/pkg/dispatch"
)

// launchUniverseHandler handles POST /api/universes/launch.
func (s *Server) launchUniverseHandler(c *echo.Context) error {
	var req dispatch.LaunchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	result, err := s.dispatcher.Launch(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoWorkerAvailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no worker available")
		}
		if errors.Is(err, dispatch.ErrWorkerRejected) {
			return echo.NewHTTPError(http.StatusBadGateway, "worker rejected launch")
		}
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// listUniversesHandler handles GET /api/universes from the hub's cache.
func (s *Server) listUniversesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Universes())
}
