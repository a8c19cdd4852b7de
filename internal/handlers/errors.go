package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"infracontrol/internal/manager"
)

// respondError maps registry errors to HTTP status codes. Anything that is
// not a known validation or lookup failure is a persistence problem.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, manager.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, manager.ErrExists):
		status = http.StatusConflict
	case errors.Is(err, manager.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, manager.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"status": "fail", "error": err.Error()})
}

func success(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
