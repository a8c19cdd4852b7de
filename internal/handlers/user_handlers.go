package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"infracontrol/internal/manager"
	"infracontrol/internal/middleware"
	"infracontrol/internal/models"
)

// DefaultPassword is assigned when a user is created without one.
const DefaultPassword = "hello"

type UserHandlers struct {
	authService *middleware.AuthService
	manager     *manager.Manager
}

type AddUserRequest struct {
	Username string      `json:"username" validate:"required,max=64"`
	Role     models.Role `json:"role" validate:"required,role"`
	Password string      `json:"password" validate:"max=256"`
}

type RemoveUserRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

func NewUserHandlers(authService *middleware.AuthService, mgr *manager.Manager) *UserHandlers {
	return &UserHandlers{authService: authService, manager: mgr}
}

func (h *UserHandlers) APIUsersAdd(c *gin.Context) {
	var req AddUserRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	password := req.Password
	if strings.TrimSpace(password) == "" {
		password = DefaultPassword
	}
	hash, err := h.authService.HashPassword(password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "fail", "error": "Failed to hash password"})
		return
	}
	if err := h.manager.AddUser(middleware.SanitizeString(req.Username), hash, req.Role); err != nil {
		respondError(c, err)
		return
	}
	success(c)
}

func (h *UserHandlers) APIUsersRemove(c *gin.Context) {
	var req RemoveUserRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	username := middleware.SanitizeString(req.Username)
	if strings.EqualFold(username, middleware.CurrentUsername(c)) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "error": "You cannot remove your own account"})
		return
	}
	if err := h.manager.RemoveUser(username); err != nil {
		respondError(c, err)
		return
	}
	success(c)
}
