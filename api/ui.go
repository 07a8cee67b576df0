package api

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	"go.uber.org/zap"
)

var (
	//go:embed ui/dist
	uiFS embed.FS

	//go:embed openapi.yaml
	openAPISpecYAML []byte
)

// uiAssets is the ui/dist tree rooted at index.html.
var uiAssets = mustSub(uiFS, "ui/dist")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(fmt.Errorf("prepare ui filesystem: %w", err))
	}
	return sub
}

// handleRoot serves the page at "/" and its static assets everywhere else
// that no API route matched.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	if r.URL.Path != "/" {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		s.assets.ServeHTTP(w, r)
		return
	}

	page, err := fs.ReadFile(uiAssets, "index.html")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("load ui index: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(page); err != nil {
		s.logger.Warn("write ui index", zap.Error(err))
	}
}
