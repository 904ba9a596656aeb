package handlers

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/chapel-web/internal/events"
	"finitefield.org/chapel-web/internal/i18n"
	mw "finitefield.org/chapel-web/internal/middleware"
	"finitefield.org/chapel-web/internal/observability"
	"finitefield.org/chapel-web/internal/origin"
	"finitefield.org/chapel-web/internal/render"
)

// Handlers serves the site: rendered pages, static files and the
// language API.
type Handlers struct {
	renderer *render.Renderer
	store    *i18n.Store
	langs    *i18n.Languages
	bus      *events.Bus
	assets   http.Handler
}

// New wires the handlers. assets serves every non-HTML path.
func New(renderer *render.Renderer, store *i18n.Store, bus *events.Bus, assets http.Handler) *Handlers {
	if bus == nil {
		bus = events.NewBus(nil)
	}
	return &Handlers{
		renderer: renderer,
		store:    store,
		langs:    store.Languages(),
		bus:      bus,
		assets:   assets,
	}
}

// Health answers liveness probes.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// Page renders HTML pages and hands every other path to the asset server.
func (h *Handlers) Page(w http.ResponseWriter, r *http.Request) {
	if !isPagePath(r.URL.Path) {
		h.assets.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		mw.WriteError(w, r, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
		return
	}

	lang := mw.Lang(r, h.langs.Default())
	ctx := render.WithFormToken(r.Context(), mw.CSRFToken(r))
	out, err := h.renderer.Render(ctx, r.URL.Path, lang)
	if err != nil {
		if errors.Is(err, origin.ErrNotFound) {
			h.NotFound(w, r)
			return
		}
		if r.Context().Err() != nil {
			return
		}
		observability.FromContext(r.Context()).Error("render failed", zap.String("path", r.URL.Path), zap.Error(err))
		mw.WriteError(w, r, http.StatusInternalServerError, "page unavailable")
		return
	}
	writeHTML(w, http.StatusOK, out)
}

// NotFound renders 404.html when the site has one.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	if !isPagePath(r.URL.Path) || strings.HasPrefix(r.URL.Path, "/api/") {
		mw.WriteError(w, r, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}
	ctx := render.WithFormToken(r.Context(), mw.CSRFToken(r))
	out, err := h.renderer.RenderNotFound(ctx, mw.Lang(r, h.langs.Default()))
	if err != nil {
		mw.WriteError(w, r, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}
	writeHTML(w, http.StatusNotFound, out)
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// isPagePath reports whether p names an HTML page or a directory.
func isPagePath(p string) bool {
	if p == "" || strings.HasSuffix(p, "/") {
		return true
	}
	switch strings.ToLower(path.Ext(p)) {
	case "", ".html", ".htm":
		return true
	}
	return false
}
