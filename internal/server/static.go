package server

import (
	"net/http"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/mongo-signup/server/internal/auth"
)

// staticFiles serves files under dir for paths no API route matched.
// Directories are served only through their index.html; listings are never
// produced.
func staticFiles(dir string) gin.HandlerFunc {
	fs := gin.Dir(dir, false)
	fileServer := http.FileServer(fs)

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			auth.NotFound(c)
			return
		}
		if !servable(fs, path.Clean("/"+c.Request.URL.Path)) {
			auth.NotFound(c)
			return
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	}
}

func servable(fs http.FileSystem, name string) bool {
	f, err := fs.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return false
	}
	if !st.IsDir() {
		return true
	}

	idx, err := fs.Open(path.Join(name, "index.html"))
	if err != nil {
		return false
	}
	idx.Close()
	return true
}

// landingPage serves the main HTML document.
func landingPage(dir string) gin.HandlerFunc {
	index := filepath.Join(dir, "index.html")
	fs := gin.Dir(dir, false)

	return func(c *gin.Context) {
		if !servable(fs, "/index.html") {
			auth.NotFound(c)
			return
		}
		c.File(index)
	}
}
