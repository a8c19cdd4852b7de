package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"infracontrol/internal/middleware"
	"infracontrol/internal/models"
)

type ClusterRequest struct {
	Nodes []string `json:"nodes" validate:"dive,max=64"`
}

// APITargets lists the registered servers and the cluster membership.
func (h *ManagerHandlers) APITargets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"nodes":         h.manager.Registry.Targets(),
		"cluster_nodes": h.manager.Registry.ClusterMembers(),
	})
}

func (h *ManagerHandlers) APITargetsAdd(c *gin.Context) {
	var t models.Target
	if !middleware.BindJSON(c, &t) {
		return
	}
	t = t.Normalize()
	if err := h.manager.AddTarget(t); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *ManagerHandlers) APITargetsUpdate(c *gin.Context) {
	id := c.Param("id")
	var t models.Target
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format", "details": err.Error()})
		return
	}
	t = t.Normalize()
	if t.ID == "" {
		t.ID = id
	}
	if err := middleware.ValidateStruct(t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": err.Error()})
		return
	}
	if err := h.manager.UpdateTarget(id, t); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *ManagerHandlers) APITargetsRemove(c *gin.Context) {
	if err := h.manager.RemoveTarget(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	success(c)
}

func (h *ManagerHandlers) APIClusterSet(c *gin.Context) {
	var req ClusterRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	if err := h.manager.SetClusterMembers(req.Nodes); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "cluster_nodes": h.manager.Registry.ClusterMembers()})
}
