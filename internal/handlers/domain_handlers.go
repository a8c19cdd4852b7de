package handlers

import (
	"github.com/gin-gonic/gin"

	"infracontrol/internal/middleware"
)

type DomainRequest struct {
	Domain string `json:"domain" validate:"required,max=253"`
}

type RenameDomainRequest struct {
	OldName string `json:"old_name" validate:"required,max=253"`
	NewName string `json:"new_name" validate:"required,max=253"`
}

func (h *ManagerHandlers) APIDomainsAdd(c *gin.Context) {
	var req DomainRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	if err := h.manager.AddDomain(middleware.SanitizeString(req.Domain)); err != nil {
		respondError(c, err)
		return
	}
	success(c)
}

func (h *ManagerHandlers) APIDomainsRename(c *gin.Context) {
	var req RenameDomainRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	if err := h.manager.RenameDomain(middleware.SanitizeString(req.OldName), middleware.SanitizeString(req.NewName)); err != nil {
		respondError(c, err)
		return
	}
	success(c)
}

func (h *ManagerHandlers) APIDomainsRemove(c *gin.Context) {
	var req DomainRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	if err := h.manager.RemoveDomain(middleware.SanitizeString(req.Domain)); err != nil {
		respondError(c, err)
		return
	}
	success(c)
}
