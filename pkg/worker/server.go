package worker

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mecanolabs/jarvis/pkg/version"
)

// Server is the worker's local HTTP surface: health, identity, and
// universe launch/inspection.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	workerID   string
	cfg        *Config
	manager    *Manager
	startedAt  time.Time
}

// NewServer creates the worker HTTP server.
func NewServer(workerID string, cfg *Config, manager *Manager) *Server {
	s := &Server{
		echo:      echo.New(),
		workerID:  workerID,
		cfg:       cfg,
		manager:   manager,
		startedAt: time.Now().UTC(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/info", s.infoHandler)
	s.echo.POST("/launch", s.launchHandler)
	s.echo.GET("/universes", s.listUniversesHandler)
	s.echo.GET("/universes/:id", s.getUniverseHandler)
	s.echo.POST("/universes/:id/agents", s.addAgentHandler)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	slog.Info("Worker HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

type infoResponse struct {
	WorkerID      string                    `json:"worker_id"`
	WorkerName    string                    `json:"worker_name"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	RunningAgents int                       `json:"running_agents"`
	Capacity      int                       `json:"capacity"`
	Capabilities  []string                  `json:"capabilities"`
	Universes     []universeSummary         `json:"universes"`
}

type universeSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Agents int    `json:"agents"`
}

func (s *Server) infoHandler(c *echo.Context) error {
	snapshots := s.manager.Universes()
	summaries := make([]universeSummary, 0, len(snapshots))
	for _, u := range snapshots {
		summaries = append(summaries, universeSummary{
			ID:     u.ID,
			Name:   u.Name,
			Status: u.Status,
			Agents: len(u.Agents),
		})
	}
	return c.JSON(http.StatusOK, infoResponse{
		WorkerID:      s.workerID,
		WorkerName:    s.cfg.WorkerName,
		Version:       version.Full(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		RunningAgents: s.manager.RunningAgentCount(),
		Capacity:      s.cfg.Capacity,
		Capabilities:  s.cfg.Capabilities,
		Universes:     summaries,
	})
}

type launchRequest struct {
	Name         string              `json:"name"`
	DimensionID  string              `json:"dimension_id"`
	WorktreePath string              `json:"worktree_path"`
	Agents       []launchAgentEntry  `json:"agents"`
}

type launchAgentEntry struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Model string `json:"model"`
	Task  string `json:"task"`
}

func (s *Server) launchHandler(c *echo.Context) error {
	var req launchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Agents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one agent is required")
	}
	for _, a := range req.Agents {
		if a.Task == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "agent task is required")
		}
	}
	if s.manager.RunningAgentCount()+len(req.Agents) > s.cfg.Capacity {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "worker at capacity")
	}

	spec := LaunchSpec{
		Name:         req.Name,
		DimensionID:  req.DimensionID,
		WorktreePath: req.WorktreePath,
	}
	for _, a := range req.Agents {
		spec.Agents = append(spec.Agents, AgentSpec{
			Name:  a.Name,
			Role:  a.Role,
			Model: a.Model,
			Task:  a.Task,
		})
	}

	universeID, err := s.manager.LaunchUniverse(c.Request().Context(), spec)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"universe_id": universeID,
		"status":      "launched",
	})
}

func (s *Server) listUniversesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Universes())
}

func (s *Server) getUniverseHandler(c *echo.Context) error {
	snapshot, ok := s.manager.Universe(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "universe not found")
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) addAgentHandler(c *echo.Context) error {
	var req launchAgentEntry
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Task == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task is required")
	}
	if s.manager.RunningAgentCount() >= s.cfg.Capacity {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "worker at capacity")
	}

	agentID, err := s.manager.LaunchAgent(c.Request().Context(), c.Param("id"), AgentSpec{
		Name:  req.Name,
		Role:  req.Role,
		Model: req.Model,
		Task:  req.Task,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"agent_id": agentID,
		"status":   "launched",
	})
}
