package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"infracontrol/internal/manager"
	"infracontrol/internal/middleware"
)

type AuthHandlers struct {
	authService *middleware.AuthService
	manager     *manager.Manager
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

func NewAuthHandlers(authService *middleware.AuthService, mgr *manager.Manager) *AuthHandlers {
	return &AuthHandlers{authService: authService, manager: mgr}
}

// APILogin exchanges credentials for a signed token carrying the user's role.
func (h *AuthHandlers) APILogin(c *gin.Context) {
	if retryAfter, locked := h.authService.LoginLockout(c); locked {
		c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "fail", "error": "Too many failed attempts"})
		return
	}

	var req LoginRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	username := req.Username

	role, err := h.manager.Authenticate(username, req.Password)
	if err != nil {
		h.authService.RecordLoginFailure(c)
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail"})
		return
	}
	h.authService.ClearFailures(c)

	token, err := h.authService.GenerateToken(username, role)
	if err != nil {
		h.manager.Log.Error().Err(err).Msg("token generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "fail", "error": "Failed to generate token"})
		return
	}

	h.manager.Log.Info().Str("username", username).Str("role", string(role)).Msg("login")
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"username": username,
		"role":     role,
		"token":    token,
	})
}
