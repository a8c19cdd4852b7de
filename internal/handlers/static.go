package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// Static serves the dashboard frontend from dir. Unknown non-API paths fall
// back to index.html so client-side routes work.
func Static(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || dir == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		clean := path.Clean("/" + c.Request.URL.Path)
		c.Request.URL.Path = clean
		file := filepath.Join(dir, filepath.FromSlash(clean))
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			c.File(file)
			return
		}
		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err == nil {
			c.File(index)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	}
}
