package middleware

import "net/http"

// HTMX records whether the request was issued by htmx (HX-Request: true).
// Error responses and the language switch read it through IsHTMX.
func HTMX(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithHTMX(r.Context(), r.Header.Get("HX-Request") == "true")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
