package fragments

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"finitefield.org/chapel-web/internal/dom"
	"finitefield.org/chapel-web/internal/origin"
)

const header = `<nav class="navbar">
  <a href="/"><img class="logo" src="images/logo.png" alt="Logo"></a>
  <img src="https://cdn.example.org/x.png">
  <img src="/static/y.png">
  <img src="data:image/png;base64,AAAA">
  <ul class="nav-menu">
    <li><a href="#location" data-i18n="nav.location">Ubicación</a></li>
    <li><a href="#doctrine" data-i18n="nav.doctrine"><i class="fas fa-book"></i> Doctrina</a></li>
  </ul>
  <button class="hamburger"><span></span></button>
  <select id="languageSelector">
    <option value="es" selected>ES</option>
    <option value="en">EN</option>
  </select>
</nav>`

const footer = `<footer><p data-i18n="footer.copy">Derechos</p><a href="#contact">Contacto</a><img src="images/f.png"></footer>`

const shell = `<!DOCTYPE html><html lang="es"><head></head><body>
<div id="header-container"></div>
<main><h1>Page</h1></main>
<div id="footer-container"></div>
</body></html>`

type tr map[string]string

func (m tr) T(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

var en = tr{
	"nav.location": "Location",
	"nav.doctrine": "Doctrine",
	"footer.copy":  "All rights reserved",
}

func parse(t *testing.T, raw string) *goquery.Document {
	t.Helper()
	doc, err := dom.Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestInjectTopLevelPage(t *testing.T) {
	doc := parse(t, shell)
	n := Inject(doc, Set{Header: []byte(header), Footer: []byte(footer)}, InjectOptions{
		PagePath:   "/index.html",
		Translator: en,
		Lang:       "en",
		LangName:   "English",
	})
	assert.Equal(t, 2, n)

	assert.Equal(t, "images/logo.png", doc.Find("img.logo").AttrOr("src", ""))
	assert.Equal(t, "#location", doc.Find(`a[data-i18n="nav.location"]`).AttrOr("href", ""))
	assert.Equal(t, "Location", doc.Find(`a[data-i18n="nav.location"]`).Text())
	assert.Equal(t, 1, doc.Find(`a[data-i18n="nav.doctrine"] i.fa-book`).Length())
	assert.Equal(t, "All rights reserved", doc.Find("footer p").Text())

	_, enSelected := doc.Find(`option[value="en"]`).Attr("selected")
	assert.True(t, enSelected)
}

func TestInjectNestedPageRebasesLinks(t *testing.T) {
	doc := parse(t, shell)
	Inject(doc, Set{Header: []byte(header), Footer: []byte(footer)}, InjectOptions{PagePath: "/doctrine/faith.html"})

	assert.Equal(t, "../images/logo.png", doc.Find("img.logo").AttrOr("src", ""))
	assert.Equal(t, "../#location", doc.Find(`a[data-i18n="nav.location"]`).AttrOr("href", ""))
	assert.Equal(t, "/", doc.Find(`.navbar > a`).First().AttrOr("href", ""))

	srcs := doc.Find("#header-container img").Map(func(_ int, s *goquery.Selection) string {
		return s.AttrOr("src", "")
	})
	assert.Contains(t, srcs, "https://cdn.example.org/x.png")
	assert.Contains(t, srcs, "/static/y.png")
	assert.Contains(t, srcs, "data:image/png;base64,AAAA")

	assert.Equal(t, "../#contact", doc.Find("footer a").AttrOr("href", ""))
	assert.Equal(t, "../images/f.png", doc.Find("footer img").AttrOr("src", ""))
}

func TestInjectWiresMenu(t *testing.T) {
	doc := parse(t, shell)
	Inject(doc, Set{Header: []byte(header)}, InjectOptions{PagePath: "/"})

	toggle := doc.Find(".hamburger")
	assert.Equal(t, "Toggle navigation menu", toggle.AttrOr("aria-label", ""))
	assert.Equal(t, "false", toggle.AttrOr("aria-expanded", ""))
	assert.Equal(t, "nav-menu", toggle.AttrOr("aria-controls", ""))
	assert.Equal(t, "nav-menu", doc.Find(".nav-menu").AttrOr("id", ""))
	assert.Equal(t, "Main navigation", doc.Find(".nav-menu").AttrOr("aria-label", ""))
}

func TestInjectSkipsMissingPieces(t *testing.T) {
	doc := parse(t, `<html><body><div id="footer-container">keep</div></body></html>`)
	n := Inject(doc, Set{Header: []byte(header)}, InjectOptions{PagePath: "/"})
	assert.Equal(t, 0, n)
	assert.Equal(t, "keep", doc.Find("#footer-container").Text())
	assert.Equal(t, 0, doc.Find("nav").Length())
}

func TestInjectTwiceIsStable(t *testing.T) {
	doc := parse(t, shell)
	set := Set{Header: []byte(header), Footer: []byte(footer)}
	opts := InjectOptions{PagePath: "/doctrine/faith.html", Translator: en}
	Inject(doc, set, opts)
	Inject(doc, set, opts)

	assert.Equal(t, 1, doc.Find("nav").Length())
	assert.Equal(t, "../#location", doc.Find(`a[data-i18n="nav.location"]`).AttrOr("href", ""))
}

type flakyOrigin struct {
	mu       sync.Mutex
	failures map[string]int
	calls    atomic.Int64
	files    fstest.MapFS
}

func (f *flakyOrigin) Fetch(ctx context.Context, name string) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	if f.failures[name] > 0 {
		f.failures[name]--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	f.mu.Unlock()
	return origin.NewFS(f.files).Fetch(ctx, name)
}

func files() fstest.MapFS {
	return fstest.MapFS{
		HeaderFile: {Data: []byte(header)},
		FooterFile: {Data: []byte(footer)},
	}
}

func TestLoaderRetriesOnce(t *testing.T) {
	o := &flakyOrigin{failures: map[string]int{HeaderFile: 1}, files: files()}
	l := NewLoader(o, WithRetryDelay(time.Millisecond))

	set, err := l.Wait(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, set.Header)
	assert.NotNil(t, set.Footer)
	assert.Equal(t, int64(3), o.calls.Load())
}

func TestLoaderGivesUpAfterRetry(t *testing.T) {
	o := &flakyOrigin{failures: map[string]int{FooterFile: 5}, files: files()}
	l := NewLoader(o, WithRetryDelay(time.Millisecond))

	set, err := l.Wait(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, set.Header)
	assert.Nil(t, set.Footer)
	assert.Equal(t, "header=true footer=false", set.String())
}

func TestLoaderReportsMissingFragment(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	o := &flakyOrigin{failures: map[string]int{FooterFile: 5}, files: files()}
	l := NewLoader(o, WithRetryDelay(time.Millisecond), WithLogger(zap.New(core)))

	_, err := l.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("fragment fetch failed, retrying").Len())
	entries := logs.FilterMessage("fragments incomplete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "header=true footer=false", fields["fragments"])
	assert.Contains(t, fields["error"], "footer.html unavailable")
	assert.Contains(t, fields["error"], "connection reset")
}

func TestLoaderReadySignal(t *testing.T) {
	gate := make(chan struct{})
	o := origin.Func(func(ctx context.Context, name string) ([]byte, error) {
		<-gate
		return []byte("<p>" + name + "</p>"), nil
	})
	l := NewLoader(o)
	l.Start(context.Background())

	select {
	case <-l.Ready():
		t.Fatal("ready before fragments were fetched")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	<-l.Ready()
	set := l.Current()
	assert.Equal(t, "<p>header.html</p>", string(set.Header))
	assert.Equal(t, "<p>footer.html</p>", string(set.Footer))
}

func TestLoaderReload(t *testing.T) {
	fsys := files()
	l := NewLoader(origin.NewFS(fsys))
	_, err := l.Wait(context.Background())
	require.NoError(t, err)

	fsys[HeaderFile] = &fstest.MapFile{Data: []byte("<nav>new</nav>")}
	set := l.Reload(context.Background())
	assert.Equal(t, "<nav>new</nav>", string(set.Header))
	assert.Equal(t, "<nav>new</nav>", string(l.Current().Header))
}
