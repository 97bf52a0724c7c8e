package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/mecanolabs/jarvis/pkg/models"
	"github.com/mecanolabs/jarvis/pkg/services"
)

// registerWorkerHandler handles POST /api/workers/register.
// No authentication: the token minted here is the credential for all later
// authenticated operations by this worker.
func (s *Server) registerWorkerHandler(c *echo.Context) error {
	var req RegisterWorkerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Hostname == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "hostname is required")
	}
	if req.MaxConcurrentAgents <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_concurrent_agents must be positive")
	}

	worker, token, err := s.workers.Register(c.Request().Context(), services.RegisterParams{
		WorkerID:            req.WorkerID,
		Hostname:            req.Hostname,
		WorkerName:          req.WorkerName,
		WorkerAddress:       req.WorkerAddress,
		MaxConcurrentAgents: req.MaxConcurrentAgents,
		Capabilities:        req.Capabilities,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &RegisterWorkerResponse{Worker: worker, AuthToken: token})
}

// heartbeatHandler handles POST /api/workers/:id/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	workerID := c.Param("id")
	if workerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "worker id is required")
	}

	var req HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status == "" {
		req.Status = models.WorkerStatusOnline
	}

	worker, err := s.workers.Heartbeat(c.Request().Context(), workerID, req.CurrentAgents, req.Status)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, worker)
}

// deregisterHandler handles POST /api/workers/:id/deregister.
func (s *Server) deregisterHandler(c *echo.Context) error {
	workerID := c.Param("id")
	if workerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "worker id is required")
	}

	if err := s.workers.Deregister(c.Request().Context(), workerID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &DeregisterResponse{
		Message:  "worker deregistered",
		WorkerID: workerID,
	})
}

// listWorkersHandler handles GET /api/workers.
func (s *Server) listWorkersHandler(c *echo.Context) error {
	status := c.QueryParam("status")
	if status != "" && status != models.WorkerStatusOnline && status != models.WorkerStatusOffline {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status: must be online or offline")
	}

	workers, err := s.workers.List(c.Request().Context(), status)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, workers)
}

// getWorkerHandler handles GET /api/workers/:id.
func (s *Server) getWorkerHandler(c *echo.Context) error {
	workerID := c.Param("id")
	if workerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "worker id is required")
	}

	worker, err := s.workers.Get(c.Request().Context(), workerID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, worker)
}

// credentialHandler handles GET /api/workers/credentials/:key_name.
func (s *Server) credentialHandler(c *echo.Context) error {
	keyName := c.Param("key_name")
	token := bearerToken(c.Request().Header.Get("Authorization"))
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	value, err := s.credentials.Fetch(c.Request().Context(), token, keyName)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CredentialResponse{KeyName: keyName, KeyValue: value})
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
