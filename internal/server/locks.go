package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/buildflow/pkg/api"
)

func (s *Server) listNodes(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Nodes())
}

func (s *Server) listLocks(c *gin.Context) {
	node, ok := nodeParam(c)
	if !ok {
		return
	}

	holders := s.engine.Locks(node)
	c.JSON(http.StatusOK, api.LocksResponse{
		Holders: holders,
		Node:    node,
		Count:   len(holders),
	})
}

func (s *Server) freeLock(c *gin.Context) {
	node, ok := nodeParam(c)
	if !ok {
		return
	}
	name := api.ResourceName(c.Param("resource"))

	if !s.engine.FreeLock(node, name) {
		writeError(c, http.StatusNotFound,
			fmt.Errorf("resource not held: %s on %s", name, node))
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "Resource freed",
	})
}

func nodeParam(c *gin.Context) (api.NodeID, bool) {
	node := api.NodeID(c.Param("node"))
	if !api.IsValidID(node) {
		writeError(c, http.StatusBadRequest,
			fmt.Errorf("%w: %s", api.ErrNodeInvalid, node))
		return "", false
	}
	return node, true
}
