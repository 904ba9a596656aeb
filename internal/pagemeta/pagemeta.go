// Package pagemeta applies the per-page sidecar records of
// page-metadata.json to activity and doctrine pages.
package pagemeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"finitefield.org/chapel-web/internal/origin"
)

// File is the sidecar location relative to the site root.
const File = "page-metadata.json"

// Content sources.
const (
	SourceActivities = "activities"
	SourceDoctrine   = "doctrine"
)

// LinkMode selects how rewritten links are prefixed.
type LinkMode string

const (
	// LinkAbsolute prefixes links with "/".
	LinkAbsolute LinkMode = "absolute"
	// LinkRelative prefixes links with the page's path back to the root.
	LinkRelative LinkMode = "relative"
)

// ParseLinkMode maps configuration strings to a LinkMode.
func ParseLinkMode(raw string) (LinkMode, error) {
	switch LinkMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", LinkAbsolute:
		return LinkAbsolute, nil
	case LinkRelative:
		return LinkRelative, nil
	}
	return "", fmt.Errorf("pagemeta: unknown link mode %q", raw)
}

// RelatedLink is one entry of a page's related links.
type RelatedLink struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Record is the metadata of one content page.
type Record struct {
	BackgroundImage string        `json:"background_image,omitempty"`
	PageKey         string        `json:"page_key"`
	RelatedLinks    []RelatedLink `json:"related_links"`
}

// Metadata maps source -> page key -> record.
type Metadata map[string]map[string]Record

// Lookup returns the record for a source and key.
func (m Metadata) Lookup(source, key string) (Record, bool) {
	if m == nil {
		return Record{}, false
	}
	rec, ok := m[source][key]
	return rec, ok
}

// Resolver loads the sidecar once and applies it to documents.
type Resolver struct {
	origin origin.Origin
	mode   LinkMode
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	meta   Metadata
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLinkMode sets the link prefixing mode.
func WithLinkMode(mode LinkMode) Option {
	return func(r *Resolver) {
		if mode != "" {
			r.mode = mode
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver constructs a Resolver reading from o.
func NewResolver(o origin.Origin, opts ...Option) *Resolver {
	r := &Resolver{origin: o, mode: LinkAbsolute, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load returns the metadata, fetching it on first use. A missing file is
// remembered as empty; other failures are retried on the next call.
func (r *Resolver) Load(ctx context.Context) (Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.meta, nil
	}

	raw, err := r.origin.Fetch(ctx, File)
	if err != nil {
		if errors.Is(err, origin.ErrNotFound) {
			r.loaded = true
			r.meta = Metadata{}
			return r.meta, nil
		}
		return nil, fmt.Errorf("pagemeta: fetch: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("pagemeta: decode: %w", err)
	}
	if meta == nil {
		meta = Metadata{}
	}
	r.loaded = true
	r.meta = meta
	return meta, nil
}

// Reset drops the cached metadata.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.loaded = false
	r.meta = nil
	r.mu.Unlock()
}

// Source classifies a page path as an activity or doctrine page.
func Source(pagePath string) (string, bool) {
	p := "/" + strings.TrimPrefix(pagePath, "/")
	switch {
	case strings.Contains(p, "/"+SourceActivities+"/"):
		return SourceActivities, true
	case strings.Contains(p, "/"+SourceDoctrine+"/"):
		return SourceDoctrine, true
	}
	return "", false
}

// PageKey is the last path segment without its .html extension.
func PageKey(pagePath string) string {
	return strings.TrimSuffix(path.Base("/"+pagePath), ".html")
}

// Apply updates doc with the record for pagePath. It reports whether a
// record was applied; errors loading the sidecar are logged and skipped.
func (r *Resolver) Apply(ctx context.Context, doc *goquery.Document, pagePath string) bool {
	source, ok := Source(pagePath)
	if !ok {
		return false
	}
	meta, err := r.Load(ctx)
	if err != nil {
		r.logger.Warn("page metadata unavailable", zap.String("page", pagePath), zap.Error(err))
		return false
	}
	key := PageKey(pagePath)
	rec, ok := meta.Lookup(source, key)
	if !ok {
		return false
	}
	prefix := "/"
	if r.mode == LinkRelative {
		prefix = origin.RootPrefix(pagePath)
	}
	ApplyRecord(doc, source, rec, prefix)
	return true
}

// ApplyRecord writes one record into doc using prefix for every link.
func ApplyRecord(doc *goquery.Document, source string, rec Record, prefix string) {
	if rec.BackgroundImage != "" {
		doc.Find(".doctrine-page").SetAttr("style",
			"background-image: linear-gradient(rgba(0, 0, 0, 0.4), rgba(0, 0, 0, 0.4)), url('"+rec.BackgroundImage+"')")
	}

	doc.Find(".back-button").SetAttr("href", prefix+"#"+source)

	doc.Find(".related-link").Each(func(i int, s *goquery.Selection) {
		if i >= len(rec.RelatedLinks) {
			return
		}
		link := rec.RelatedLinks[i]
		s.SetAttr("href", prefix+source+"/"+link.URL)
		s.SetText(link.Text)
	})

	contact := prefix + "#contact"
	if source == SourceActivities {
		contact += "?activity=" + rec.PageKey
	}
	doc.Find(".contact-cta-button").SetAttr("href", contact)
}
