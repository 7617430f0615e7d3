package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/yegors/mlat-client/pkg/logger"
)

// StaticFileHandler serves a results viewer from disk without caching
type StaticFileHandler struct {
	root   fs.FS
	files  http.Handler
	logger *logger.Logger
}

// NewStaticFileHandler creates a new static file handler rooted at staticDir
func NewStaticFileHandler(staticDir string, logger *logger.Logger) *StaticFileHandler {
	root := os.DirFS(staticDir)
	return &StaticFileHandler{
		root:   root,
		files:  http.FileServer(http.FS(root)),
		logger: logger.Named("static-handler"),
	}
}

// ServeHTTP serves static files. os.DirFS rejects paths escaping the root.
func (h *StaticFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = "."
	}

	info, err := fs.Stat(h.root, name)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrInvalid):
		h.logger.Debug("File not found", logger.String("path", name))
		http.NotFound(w, r)
		return
	case err != nil:
		h.logger.Error("Failed to stat file", logger.Error(err), logger.String("path", name))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Don't list directories
	if info.IsDir() {
		if _, err := fs.Stat(h.root, path.Join(name, "index.html")); err != nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	h.files.ServeHTTP(w, r)
}
