package middleware

import (
	"net/http"

	"finitefield.org/chapel-web/internal/i18n"
)

// LanguageQuery is the query parameter that switches and persists the language.
const LanguageQuery = "lang"

// Locale resolves the active language: ?lang= (persisted in the session),
// then the session's selectedLanguage, then Accept-Language, then the
// default. Unsupported values are ignored.
func Locale(langs *i18n.Languages) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := GetSession(r)
			lang := ""
			if q, ok := langs.Normalize(r.URL.Query().Get(LanguageQuery)); ok {
				lang = q
				s.SetLanguage(q)
			} else if code, ok := langs.Normalize(s.SelectedLanguage); ok {
				lang = code
			} else {
				lang = langs.Match(r.Header.Get("Accept-Language"))
			}
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(WithLanguage(r.Context(), lang)))
		})
	}
}

// Lang returns the request language or fallback when Locale did not run.
func Lang(r *http.Request, fallback string) string {
	if v := Language(r.Context()); v != "" {
		return v
	}
	return fallback
}

// VaryLocale sets Vary header for Accept-Language on dynamic responses
func VaryLocale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Language")
		w.Header().Add("Vary", "Cookie")
		next.ServeHTTP(w, r)
	})
}
