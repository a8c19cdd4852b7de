package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"infracontrol/internal/manager"
	"infracontrol/internal/version"
)

type ManagerHandlers struct {
	manager *manager.Manager
}

func NewManagerHandlers(mgr *manager.Manager) *ManagerHandlers {
	return &ManagerHandlers{manager: mgr}
}

// APIStatus serves the last published snapshot without waiting on a cycle.
func (h *ManagerHandlers) APIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Snapshot())
}

func (h *ManagerHandlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ManagerHandlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Current())
}

// Readyz reports ready once the first poll cycle has been published.
func (h *ManagerHandlers) Readyz(c *gin.Context) {
	snap := h.manager.Snapshot()
	if snap == nil || snap.UpdatedAt.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "last_updated": snap.LastUpdated})
}
