package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infracontrol/internal/models"
)

func authRouter(a *AuthService, roles ...models.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", a.RequireAPIAuth())
	if len(roles) > 0 {
		api.Use(RequireRole(roles...))
	}
	api.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": CurrentUsername(c), "role": CurrentRole(c)})
	})
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenerateAndValidateToken(t *testing.T) {
	a := NewAuthService("test-secret")
	token, err := a.GenerateToken("alice", models.RoleOperator)
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, models.RoleOperator, claims.Role)
	assert.NotEmpty(t, claims.ID)

	other, err := a.GenerateToken("alice", models.RoleOperator)
	require.NoError(t, err)
	otherClaims, err := a.ValidateToken(other)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, otherClaims.ID)

	_, err = NewAuthService("different").ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpiredAndForeignIssuer(t *testing.T) {
	a := NewAuthService("test-secret")
	a.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, err := a.GenerateToken("bob", models.RoleViewer)
	require.NoError(t, err)
	a.now = time.Now
	_, err = a.ValidateToken(expired)
	assert.Error(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: "bob",
		Role:     models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = a.ValidateToken(signed)
	assert.Error(t, err)
}

func TestRequireAPIAuth(t *testing.T) {
	a := NewAuthService("test-secret")
	r := authRouter(a)

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "garbage").Code)

	token, err := a.GenerateToken("alice", models.RoleViewer)
	require.NoError(t, err)
	w := get(r, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"alice","role":"viewer"}`, w.Body.String())
}

func TestRequireAPIAuthLocksOutRepeatedFailures(t *testing.T) {
	a := NewAuthService("test-secret")
	r := authRouter(a)

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = get(r, "bad-token")
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))

	token, err := a.GenerateToken("alice", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, get(r, token).Code, "valid tokens wait out the lockout")
}

func TestRequireRole(t *testing.T) {
	a := NewAuthService("test-secret")
	r := authRouter(a, models.RoleAdmin, models.RoleOperator)

	viewer, _ := a.GenerateToken("v", models.RoleViewer)
	operator, _ := a.GenerateToken("o", models.RoleOperator)
	admin, _ := a.GenerateToken("a", models.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, get(r, viewer).Code)
	assert.Equal(t, http.StatusOK, get(r, operator).Code)
	assert.Equal(t, http.StatusOK, get(r, admin).Code)
}

func TestHashPassword(t *testing.T) {
	a := NewAuthService("s")
	h, err := a.HashPassword("hello")
	require.NoError(t, err)
	assert.True(t, a.CheckPassword("hello", h))
	assert.False(t, a.CheckPassword("nope", h))
}
