package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"infracontrol/internal/models"
)

type userBody struct {
	Username string      `json:"username" validate:"required,max=64"`
	Role     models.Role `json:"role" validate:"required,role"`
}

func bindRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/users", func(c *gin.Context) {
		var body userBody
		if !BindJSON(c, &body) {
			return
		}
		c.JSON(http.StatusOK, body)
	})
	return r
}

func TestBindJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"valid", `{"username":"ops","role":"operator"}`, http.StatusOK},
		{"malformed", `{"username":`, http.StatusBadRequest},
		{"missing username", `{"role":"viewer"}`, http.StatusBadRequest},
		{"unknown role", `{"username":"x","role":"root"}`, http.StatusBadRequest},
	}
	r := bindRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestBindJSONDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"username":"x","role":"root"}`))
	w := httptest.NewRecorder()
	bindRouter().ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), "Role: role")
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "example.com", SanitizeString("  exa\x00mple.com\x07 "))
	assert.Equal(t, "a\tb", SanitizeString("a\tb"))
}
