package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"finitefield.org/chapel-web/internal/observability"
	"finitefield.org/chapel-web/internal/origin"
)

// AssetsWithCache serves static files from the origin and applies
// Cache-Control, Vary and ETag handling.
func AssetsWithCache(o origin.Origin, maxAge time.Duration) http.Handler {
	cacheControl := "public, max-age=" + strconv.Itoa(int(maxAge.Seconds())) + ", stale-while-revalidate=86400"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := origin.Clean(r.URL.Path)
		if name == "" || name == "." {
			http.NotFound(w, r)
			return
		}
		data, err := o.Fetch(r.Context(), name)
		if err != nil {
			if errors.Is(err, origin.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			observability.FromContext(r.Context()).Sugar().Warnw("asset fetch failed", "path", name, "error", err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}

		et := contentETag(data)
		w.Header().Set("Vary", "Accept-Encoding")
		w.Header().Set("Cache-Control", cacheControl)
		w.Header().Set("ETag", et)
		if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		if inm := r.Header.Get("If-None-Match"); inm != "" && matchesETag(inm, et) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	})
}

func contentETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `W/"` + hex.EncodeToString(sum[:16]) + `"`
}

func matchesETag(header, et string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == et {
			return true
		}
	}
	return false
}
