package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/buildflow/internal/engine"
	"github.com/kode4food/buildflow/pkg/api"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	dotContentType = "text/vnd.graphviz; charset=utf-8"
)

func (s *Server) listRuns(c *gin.Context) {
	limit := defaultListLimit
	if q := c.Query("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 || v > maxListLimit {
			writeError(c, http.StatusBadRequest,
				fmt.Errorf("%w: %q", ErrInvalidLimit, q))
			return
		}
		limit = v
	}

	runs, err := s.engine.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, api.RunsListResponse{
		Runs:  runs,
		Count: len(runs),
	})
}

func (s *Server) startRun(c *gin.Context) {
	var req api.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest,
			fmt.Errorf("%w: %w", ErrInvalidJSON, err))
		return
	}

	run, err := s.engine.RunProgram(&req)
	if err == nil {
		c.JSON(http.StatusCreated, api.RunStartedResponse{
			Message: "Run started",
			RunID:   run.ID(),
		})
		return
	}

	if errors.Is(err, engine.ErrEngineStopped) {
		writeError(c, http.StatusServiceUnavailable, err)
		return
	}
	writeError(c, http.StatusBadRequest, err)
}

func (s *Server) getRun(c *gin.Context) {
	id := api.RunID(c.Param("runID"))

	rec, err := s.engine.GetRun(c.Request.Context(), id)
	if err != nil {
		writeRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) cancelRun(c *gin.Context) {
	id := api.RunID(c.Param("runID"))

	err := s.engine.CancelRun(c.Request.Context(), id)
	if err != nil {
		writeRunError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.MessageResponse{
		Message: "Run cancellation requested",
	})
}

func (s *Server) getGraph(c *gin.Context) {
	id := api.RunID(c.Param("runID"))
	ctx := c.Request.Context()

	if c.Query("format") == "dot" {
		dot, err := s.engine.GetGraph(ctx, id)
		if err != nil {
			writeRunError(c, err)
			return
		}
		c.Data(http.StatusOK, dotContentType, dot)
		return
	}

	rec, err := s.engine.GetRun(ctx, id)
	if err != nil {
		writeRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.Graph)
}

func writeRunError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrRunNotFound):
		writeError(c, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrRunNotActive):
		writeError(c, http.StatusConflict, err)
	default:
		writeError(c, http.StatusInternalServerError, err)
	}
}
