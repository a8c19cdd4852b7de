package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>dash</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	r := gin.New()
	r.NoRoute(Static(dir))

	get := func(p string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		return w
	}

	assert.Contains(t, get("/").Body.String(), "dash")
	assert.Contains(t, get("/app.js").Body.String(), "console.log")
	assert.Contains(t, get("/servers/web1").Body.String(), "dash")
	assert.Contains(t, get("/../../etc/passwd").Body.String(), "dash")
	assert.Equal(t, http.StatusNotFound, get("/api/unknown").Code)
}
