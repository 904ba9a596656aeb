// Package render runs the page pipeline: fetch the page, splice in the
// shared fragments, apply page metadata and long-form content, then
// resolve every i18n marker for the requested language.
package render

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finitefield.org/chapel-web/internal/cms"
	"finitefield.org/chapel-web/internal/dom"
	"finitefield.org/chapel-web/internal/fragments"
	"finitefield.org/chapel-web/internal/i18n"
	"finitefield.org/chapel-web/internal/observability"
	"finitefield.org/chapel-web/internal/origin"
	"finitefield.org/chapel-web/internal/pagemeta"
)

const (
	indexPage    = "index.html"
	notFoundPage = "404.html"
	contentBody  = "[data-content-body]"

	meterName = "finitefield.org/chapel-web/internal/render"

	csrfField     = "csrf_token"
	redirectField = "redirect"
)

type formTokenKey struct{}

// WithFormToken attaches the session's CSRF token so rendered forms can
// carry it in their csrf_token field.
func WithFormToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, formTokenKey{}, token)
}

func formToken(ctx context.Context) string {
	token, _ := ctx.Value(formTokenKey{}).(string)
	return token
}

// Renderer produces localized HTML for site pages.
type Renderer struct {
	origin  origin.Origin
	store   *i18n.Store
	loader  *fragments.Loader
	meta    *pagemeta.Resolver
	content *cms.Client
	dev     bool
	logger  *zap.Logger

	meter   metric.Meter
	latency metric.Float64Histogram
}

// Option customises a Renderer.
type Option func(*Renderer)

// WithContent enables long-form content bodies.
func WithContent(c *cms.Client) Option {
	return func(r *Renderer) { r.content = c }
}

// WithDevMode refreshes fragments, dictionaries, metadata and content
// before every render.
func WithDevMode(dev bool) Option {
	return func(r *Renderer) { r.dev = dev }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(r *Renderer) { r.meter = m }
}

// New wires a Renderer.
func New(o origin.Origin, store *i18n.Store, loader *fragments.Loader, meta *pagemeta.Resolver, opts ...Option) *Renderer {
	r := &Renderer{
		origin: o,
		store:  store,
		loader: loader,
		meta:   meta,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meter == nil {
		r.meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := r.meter.Float64Histogram(
		"chapel.render.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time to render one localized page"),
	)
	if err != nil {
		r.logger.Warn("render: unable to register latency metric", zap.Error(err))
	}
	r.latency = latency
	return r
}

// Languages returns the supported set of the underlying store.
func (r *Renderer) Languages() *i18n.Languages { return r.store.Languages() }

// Render returns the localized page at pagePath. Missing pages wrap
// origin.ErrNotFound.
func (r *Renderer) Render(ctx context.Context, pagePath, lang string) ([]byte, error) {
	ctx, span := observability.Tracer().Start(ctx, "render.page", trace.WithAttributes(
		attribute.String("page.path", pagePath),
		attribute.String("page.lang", lang),
	))
	defer span.End()

	start := time.Now()
	out, err := r.render(ctx, pagePath, lang)
	outcome := "ok"
	switch {
	case errors.Is(err, origin.ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if r.latency != nil {
		r.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), metric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
	return out, err
}

// RenderNotFound renders the site's 404 page.
func (r *Renderer) RenderNotFound(ctx context.Context, lang string) ([]byte, error) {
	return r.Render(ctx, "/"+notFoundPage, lang)
}

func (r *Renderer) render(ctx context.Context, pagePath, lang string) ([]byte, error) {
	logger := r.loggerFor(ctx)
	langs := r.store.Languages()
	code, ok := langs.Normalize(lang)
	if !ok {
		code = langs.Default()
	}

	if r.dev {
		r.refresh(ctx)
	}

	name, raw, err := r.fetchPage(ctx, pagePath)
	if err != nil {
		return nil, err
	}
	doc, err := dom.Parse(raw)
	if err != nil {
		return nil, err
	}
	pageRef := "/" + name
	dom.SetDocumentLanguage(doc, code)
	tr := r.store.Translator(ctx, code)

	set, err := r.loader.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: waiting for fragments: %w", err)
	}
	fragments.Inject(doc, set, fragments.InjectOptions{
		PagePath:   pageRef,
		Translator: tr,
		Lang:       code,
		LangName:   langs.Name(code),
	})

	r.meta.Apply(ctx, doc, pageRef)
	r.applyContent(ctx, logger, doc, pageRef, code)

	fillForms(doc, formToken(ctx), redirectTarget(pagePath, pageRef))

	n := dom.Update(doc.Selection, tr)
	dom.UpdateLanguageSelector(doc.Selection, code, langs.Name(code))
	logger.Debug("page rendered",
		zap.String("page", pageRef),
		zap.String("lang", code),
		zap.Int("bindings", n),
		zap.Stringer("fragments", set),
	)
	return dom.Render(doc)
}

// fetchPage maps a request path to a page file: "/" and directories serve
// their index.html, extensionless paths try name.html first.
func (r *Renderer) fetchPage(ctx context.Context, pagePath string) (string, []byte, error) {
	name := origin.Clean(pagePath)
	if name == "" {
		return "", nil, fmt.Errorf("%w: %s", origin.ErrNotFound, pagePath)
	}
	if name == "." {
		name = indexPage
	} else if strings.HasSuffix(pagePath, "/") {
		name = path.Join(name, indexPage)
	}
	raw, err := r.origin.Fetch(ctx, name)
	if err == nil {
		return name, raw, nil
	}
	if !errors.Is(err, origin.ErrNotFound) || path.Ext(name) != "" {
		return "", nil, err
	}
	for _, candidate := range []string{name + ".html", path.Join(name, indexPage)} {
		raw, cerr := r.origin.Fetch(ctx, candidate)
		if cerr == nil {
			return candidate, raw, nil
		}
		if !errors.Is(cerr, origin.ErrNotFound) {
			return "", nil, cerr
		}
	}
	return "", nil, err
}

// applyContent fills [data-content-body] on activity and doctrine pages.
func (r *Renderer) applyContent(ctx context.Context, logger *zap.Logger, doc *goquery.Document, pageRef, lang string) {
	if r.content == nil {
		return
	}
	target := doc.Find(contentBody).First()
	if target.Length() == 0 {
		return
	}
	source, ok := pagemeta.Source(pageRef)
	if !ok {
		return
	}
	page, err := r.content.Get(ctx, source, pagemeta.PageKey(pageRef), lang)
	if err != nil {
		if !errors.Is(err, cms.ErrNotFound) {
			logger.Warn("content body skipped", zap.String("page", pageRef), zap.Error(err))
		}
		return
	}
	target.SetHtml(page.HTML)
	target.SetAttr("lang", page.Lang)
}

// fillForms sets the hidden fields of POST forms: the CSRF token and the
// page to come back to.
func fillForms(doc *goquery.Document, token, back string) {
	doc.Find("form[method]").Each(func(_ int, form *goquery.Selection) {
		if !strings.EqualFold(form.AttrOr("method", ""), "post") {
			return
		}
		form.Find(`input[name="` + csrfField + `"]`).SetAttr("value", token)
		form.Find(`input[type="hidden"][name="` + redirectField + `"]`).SetAttr("value", back)
	})
}

func redirectTarget(pagePath, pageRef string) string {
	if pageRef == "/"+notFoundPage {
		return "/"
	}
	if strings.HasPrefix(pagePath, "/") && !strings.HasPrefix(pagePath, "//") {
		return pagePath
	}
	return pageRef
}

func (r *Renderer) refresh(ctx context.Context) {
	r.loader.Reload(ctx)
	r.store.Invalidate()
	r.meta.Reset()
	if r.content != nil {
		r.content.Invalidate()
	}
}

func (r *Renderer) loggerFor(ctx context.Context) *zap.Logger {
	return observability.FromContextOr(ctx, r.logger)
}
