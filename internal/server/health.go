package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/buildflow"
	"github.com/kode4food/buildflow/pkg/api"
)

const (
	healthHealthy   = "healthy"
	healthUnhealthy = "unhealthy"
)

func (s *Server) handleHealth(c *gin.Context) {
	res := api.HealthResponse{
		Service:    buildflow.Name,
		Version:    buildflow.Version,
		Status:     healthHealthy,
		ActiveRuns: s.engine.ActiveRuns(),
	}
	if err := s.engine.Health(c.Request.Context()); err != nil {
		res.Status = healthUnhealthy
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}
	c.JSON(http.StatusOK, res)
}
