package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tallyworks/tallyd/internal/counter/service"
)

type engineStatusResponse struct {
	Engine         service.EngineStatus `json:"engine"`
	Subscribers    int                  `json:"subscribers"`
	LastReconcile  string               `json:"last_reconcile,omitempty"`
	ReconcileError string               `json:"reconcile_error,omitempty"`
}

// ResetAllData wipes every counter, in memory and durable. Exposed for
// operators only; there is no partial reset.
func (s *Server) ResetAllData(c *gin.Context) {
	if err := s.svc.ResetAllData(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) EngineStatus(c *gin.Context) {
	resp := engineStatusResponse{
		Engine:      s.status.Status(),
		Subscribers: s.registry.Count(),
	}
	if last := s.reconciler.LastRun(); !last.IsZero() {
		resp.LastReconcile = last.UTC().Format(time.RFC3339)
	}
	if err := s.reconciler.LastError(); err != nil {
		resp.ReconcileError = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
