package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/chapel-web/internal/events"
	"finitefield.org/chapel-web/internal/i18n"
	mw "finitefield.org/chapel-web/internal/middleware"
	"finitefield.org/chapel-web/internal/observability"
)

const maxLanguageBody = 4 << 10

type languagesResponse struct {
	Current   string          `json:"current"`
	Languages []i18n.Language `json:"languages"`
}

// Languages lists the supported languages and the active one.
func (h *Handlers) Languages(w http.ResponseWriter, r *http.Request) {
	mw.WriteJSON(w, http.StatusOK, languagesResponse{
		Current:   mw.Lang(r, h.langs.Default()),
		Languages: h.langs.All(),
	})
}

// Translations returns the active dictionary for ?lang= or the request language.
// Unsupported or unloadable codes answer with the default dictionary.
func (h *Handlers) Translations(w http.ResponseWriter, r *http.Request) {
	code := mw.Lang(r, h.langs.Default())
	if q := strings.TrimSpace(r.URL.Query().Get("lang")); q != "" {
		code = q
	}
	tr := h.store.Translator(r.Context(), code)
	dict := tr.Dictionary()
	if dict == nil {
		dict = i18n.Dictionary{}
	}
	w.Header().Set("Content-Language", tr.Lang())
	w.Header().Set("Cache-Control", "public, max-age=300")
	mw.WriteJSON(w, http.StatusOK, dict)
}

type languageRequest struct {
	Language string `json:"language"`
}

// SetLanguage switches the session language, publishes the change and
// signals it to htmx listeners through HX-Trigger.
func (h *Handlers) SetLanguage(w http.ResponseWriter, r *http.Request) {
	requested, err := readLanguage(r)
	if err != nil {
		mw.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	code, ok := h.langs.Normalize(requested)
	if !ok {
		mw.WriteError(w, r, http.StatusBadRequest, "unsupported language")
		return
	}

	sess := mw.GetSession(r)
	previous, changed := sess.SetLanguage(code)
	if changed {
		h.bus.Publish(r.Context(), events.LanguageChanged{
			SessionID: sess.ID,
			Language:  code,
			Previous:  previous,
		})
	} else {
		observability.FromContext(r.Context()).Debug("language unchanged", zap.String("lang", code))
	}

	trigger, _ := json.Marshal(map[string]events.LanguageChanged{
		events.LanguageChangedName: {Language: code},
	})
	w.Header().Set("HX-Trigger", string(trigger))
	w.Header().Set("Content-Language", code)

	if target := localRedirect(r.FormValue("redirect")); target != "" && !mw.IsHTMX(r.Context()) {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readLanguage(r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body languageRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxLanguageBody))
		if err := dec.Decode(&body); err != nil {
			return "", err
		}
		return body.Language, nil
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxLanguageBody)
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	if r.PostForm.Has("language") {
		return r.PostForm.Get("language"), nil
	}
	if v := r.URL.Query().Get("language"); v != "" {
		return v, nil
	}
	return "", errors.New("language missing")
}

// localRedirect accepts only same-site absolute paths.
func localRedirect(target string) string {
	target = strings.TrimSpace(target)
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return ""
	}
	return target
}
