// Package pages serves the portal's static front-end bundle.
package pages

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/middleware"
)

const indexFile = "index.html"

// Handler serves files from a bundle, falling back to index.html so the
// client-side router can take over unknown paths.
type Handler struct {
	files fs.FS
}

// New serves the bundle in files.
func New(files fs.FS) *Handler {
	return &Handler{files: files}
}

// RegisterRoutes mounts the page routes. It must be the last registration on
// r since it claims every unmatched path.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assets/*", h.serveAsset)
	r.With(middleware.RequireAdmin).Get("/accounting", h.ServeHTTP)
	r.With(middleware.RequireAdmin).Get("/accounting/*", h.ServeHTTP)
	r.Get("/*", h.ServeHTTP)
}

// ServeHTTP serves the requested file or the SPA entry point.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := cleanName(r.URL.Path)
	if name != "" && name != indexFile && h.serveFile(w, r, name) {
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	if !h.serveFile(w, r, indexFile) {
		http.NotFound(w, r)
	}
}

// Missing assets must 404 rather than return HTML the browser would try to
// run as a script.
func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request) {
	if !h.serveFile(w, r, cleanName(r.URL.Path)) {
		http.NotFound(w, r)
	}
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, name string) bool {
	f, err := h.files.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("file", name).Msg("open static file")
		}
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	content, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			return false
		}
		content = bytes.NewReader(data)
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), content)
	return true
}

func cleanName(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
