package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/kode4food/buildflow/internal/engine"
	"github.com/kode4food/buildflow/internal/events"
	"github.com/kode4food/buildflow/internal/util"
	"github.com/kode4food/buildflow/pkg/api"
)

// Server implements the HTTP API server for the orchestrator
type Server struct {
	engine  *engine.Engine
	hub     *events.Hub
	sockets util.Set[*Client]
	mu      sync.Mutex
}

var (
	ErrInvalidJSON  = errors.New("invalid JSON")
	ErrInvalidLimit = errors.New("invalid limit")
)

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine) *Server {
	return &Server{
		engine:  eng,
		hub:     eng.Hub(),
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	// Engine endpoints
	eng := router.Group("/engine")
	{
		eng.GET("/health", s.handleHealth)

		// Run endpoints
		eng.GET("/run", s.listRuns)
		eng.POST("/run", s.startRun)
		eng.GET("/run/:runID", s.getRun)
		eng.DELETE("/run/:runID", s.cancelRun)
		eng.GET("/run/:runID/graph", s.getGraph)

		// Lock endpoints
		eng.GET("/node", s.listNodes)
		eng.GET("/node/:node/lock", s.listLocks)
		eng.DELETE("/node/:node/lock/:resource", s.freeLock)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}
