// Package api implements the control plane's HTTP and WebSocket surface.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mecanolabs/jarvis/pkg/database"
	"github.com/mecanolabs/jarvis/pkg/dispatch"
	"github.com/mecanolabs/jarvis/pkg/events"
	"github.com/mecanolabs/jarvis/pkg/services"
)

// Server wires the HTTP routes to the service layer.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	dbClient      *database.Client
	workers       *services.WorkerService
	conversations *services.ConversationService
	credentials   *services.CredentialService
	dispatcher    *dispatch.Dispatcher
	hub           *events.Hub
}

// NewServer creates the API server and registers all routes.
func NewServer(
	dbClient *database.Client,
	workers *services.WorkerService,
	conversations *services.ConversationService,
	credentials *services.CredentialService,
	dispatcher *dispatch.Dispatcher,
	hub *events.Hub,
) *Server {
	s := &Server{
		echo:          echo.New(),
		dbClient:      dbClient,
		workers:       workers,
		conversations: conversations,
		credentials:   credentials,
		dispatcher:    dispatcher,
		hub:           hub,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())

	s.echo.GET("/health", s.healthHandler)

	api := s.echo.Group("/api")

	api.POST("/workers/register", s.registerWorkerHandler)
	api.GET("/workers", s.listWorkersHandler)
	// Static segment before the :id routes so "credentials" never matches
	// as a worker id.
	api.GET("/workers/credentials/:key_name", s.credentialHandler)
	api.GET("/workers/:id", s.getWorkerHandler)
	api.POST("/workers/:id/heartbeat", s.heartbeatHandler)
	api.POST("/workers/:id/deregister", s.deregisterHandler)

	api.POST("/universes/launch", s.launchUniverseHandler)
	api.GET("/universes", s.listUniversesHandler)

	api.GET("/conversations/by-universe/:id", s.listConversationsHandler)
	api.GET("/conversations/:id/turns", s.listTurnsHandler)
	api.GET("/conversations/:id/turns/:turn_id", s.getTurnHandler)

	s.echo.GET("/ws/worker/:id", s.workerWSHandler)
	s.echo.GET("/ws/universes", s.universesWSHandler)
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
