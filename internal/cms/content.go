package cms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"finitefield.org/chapel-web/internal/origin"
)

// ErrNotFound is returned when no language in the chain has the page.
var ErrNotFound = errors.New("cms: content not found")

const defaultCacheTTL = 5 * time.Minute

// ContentPage is a localized long-form body for one content page.
type ContentPage struct {
	Source    string
	Slug      string
	Lang      string
	Title     string
	Summary   string
	HTML      string
	UpdatedAt time.Time
}

type contentFrontMatter struct {
	Title     string `yaml:"title"`
	Summary   string `yaml:"summary"`
	Lang      string `yaml:"lang"`
	UpdatedAt string `yaml:"updated_at"`
}

// Client reads markdown from an origin laid out as {source}/{lang}/{slug}.md.
type Client struct {
	origin      origin.Origin
	defaultLang string
	ttl         time.Duration
	markdown    goldmark.Markdown
	policy      *bluemonday.Policy
	logger      *zap.Logger
	now         func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

type cacheEntry struct {
	page    ContentPage
	err     error
	expires time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithCacheTTL overrides the cache lifetime.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a content client. defaultLang ends every lookup chain.
func NewClient(o origin.Origin, defaultLang string, opts ...Option) *Client {
	c := &Client{
		origin:      o,
		defaultLang: strings.ToLower(strings.TrimSpace(defaultLang)),
		ttl:         defaultCacheTTL,
		markdown:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:      newContentPolicy(),
		logger:      zap.NewNop(),
		now:         time.Now,
		items:       map[string]cacheEntry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newContentPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("figure", "figcaption")
	policy.AllowAttrs("class").OnElements("div", "span", "p", "blockquote")
	policy.RequireNoFollowOnLinks(false)
	return policy
}

// Get returns the page for source/slug in lang, falling back to the
// default language. Results, including misses, are cached for the TTL.
func (c *Client) Get(ctx context.Context, source, slug, lang string) (ContentPage, error) {
	source = sanitizeSlug(source)
	slug = sanitizeSlug(slug)
	if source == "" || slug == "" {
		return ContentPage{}, ErrNotFound
	}
	lang = strings.ToLower(strings.TrimSpace(lang))

	key := strings.Join([]string{source, lang, slug}, "|")
	if entry, ok := c.cached(key); ok {
		return entry.page, entry.err
	}

	page, err := c.fetch(ctx, source, slug, lang)
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Warn("content page failed", zap.String("source", source), zap.String("slug", slug), zap.String("lang", lang), zap.Error(err))
		return ContentPage{}, err
	}
	c.store(key, page, err)
	return page, err
}

// Invalidate clears the cache.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.items = map[string]cacheEntry{}
	c.mu.Unlock()
}

func (c *Client) fetch(ctx context.Context, source, slug, lang string) (ContentPage, error) {
	chain := []string{}
	if lang != "" {
		chain = append(chain, lang)
	}
	if c.defaultLang != "" && c.defaultLang != lang {
		chain = append(chain, c.defaultLang)
	}
	for _, candidate := range chain {
		page, err := c.read(ctx, source, slug, candidate)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, origin.ErrNotFound) {
			continue
		}
		return ContentPage{}, err
	}
	return ContentPage{}, ErrNotFound
}

func (c *Client) read(ctx context.Context, source, slug, lang string) (ContentPage, error) {
	name := path.Join(source, lang, slug+".md")
	data, err := c.origin.Fetch(ctx, name)
	if err != nil {
		return ContentPage{}, err
	}
	fm, body := splitFrontMatter(string(data))
	front := contentFrontMatter{}
	if strings.TrimSpace(fm) != "" {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return ContentPage{}, fmt.Errorf("cms: parse front matter %s: %w", name, err)
		}
	}
	var buf bytes.Buffer
	if err := c.markdown.Convert([]byte(body), &buf); err != nil {
		return ContentPage{}, fmt.Errorf("cms: render %s: %w", name, err)
	}
	page := ContentPage{
		Source:    source,
		Slug:      slug,
		Lang:      firstNonEmpty(strings.TrimSpace(front.Lang), lang),
		Title:     strings.TrimSpace(front.Title),
		Summary:   strings.TrimSpace(front.Summary),
		HTML:      c.policy.Sanitize(buf.String()),
		UpdatedAt: parseContentDate(front.UpdatedAt),
	}
	if page.Title == "" {
		page.Title = prettifySlug(slug)
	}
	return page, nil
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			fm := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return fm, strings.TrimLeft(body, "\n\r")
		}
	}
	return "", input
}

func parseContentDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006/01/02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func prettifySlug(slug string) string {
	parts := strings.Split(slug, "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		runes := []rune(part)
		if runes[0] >= 'a' && runes[0] <= 'z' {
			runes[0] -= 'a' - 'A'
		}
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}

func sanitizeSlug(slug string) string {
	slug = strings.Trim(strings.TrimSpace(strings.ToLower(slug)), "/")
	if slug == "" || strings.Contains(slug, "..") || strings.ContainsAny(slug, `/\`) {
		return ""
	}
	return slug
}

func (c *Client) cached(key string) (cacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expires) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *Client) store(key string, page ContentPage, err error) {
	c.mu.Lock()
	c.items[key] = cacheEntry{page: page, err: err, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
