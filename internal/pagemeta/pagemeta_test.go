package pagemeta

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/chapel-web/internal/dom"
	"finitefield.org/chapel-web/internal/origin"
)

const metadata = `{
  "activities": {
    "youth": {
      "background_image": "../images/youth.jpg",
      "page_key": "youth",
      "related_links": [
        {"url": "choir.html", "text": "Choir"},
        {"url": "bible-study.html", "text": "Bible study"}
      ]
    }
  },
  "doctrine": {
    "faith": {
      "page_key": "faith",
      "related_links": [{"url": "grace.html", "text": "Grace"}]
    }
  }
}`

const contentPage = `<html><body>
<section class="doctrine-page" style="x"></section>
<a class="back-button" href="#">Back</a>
<a class="related-link" href="#">one</a>
<a class="related-link" href="#">two</a>
<a class="related-link" href="#">three</a>
<a class="contact-cta-button" href="#">Contact</a>
</body></html>`

func newDoc(t *testing.T) *goquery.Document {
	t.Helper()
	doc, err := dom.Parse([]byte(contentPage))
	require.NoError(t, err)
	return doc
}

func TestSourceAndPageKey(t *testing.T) {
	cases := []struct {
		path   string
		source string
		ok     bool
		key    string
	}{
		{"/activities/youth.html", SourceActivities, true, "youth"},
		{"doctrine/faith.html", SourceDoctrine, true, "faith"},
		{"/site/doctrine/grace.html", SourceDoctrine, true, "grace"},
		{"/index.html", "", false, "index"},
		{"/activities.html", "", false, "activities"},
	}
	for _, tc := range cases {
		source, ok := Source(tc.path)
		assert.Equal(t, tc.source, source, tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.key, PageKey(tc.path), tc.path)
	}
}

func TestApplyActivityAbsolute(t *testing.T) {
	r := NewResolver(origin.NewFS(fstest.MapFS{File: {Data: []byte(metadata)}}))
	doc := newDoc(t)
	require.True(t, r.Apply(context.Background(), doc, "/activities/youth.html"))

	assert.Equal(t,
		"background-image: linear-gradient(rgba(0, 0, 0, 0.4), rgba(0, 0, 0, 0.4)), url('../images/youth.jpg')",
		doc.Find(".doctrine-page").AttrOr("style", ""))
	assert.Equal(t, "/#activities", doc.Find(".back-button").AttrOr("href", ""))

	links := doc.Find(".related-link")
	assert.Equal(t, "/activities/choir.html", links.Eq(0).AttrOr("href", ""))
	assert.Equal(t, "Choir", links.Eq(0).Text())
	assert.Equal(t, "/activities/bible-study.html", links.Eq(1).AttrOr("href", ""))
	assert.Equal(t, "#", links.Eq(2).AttrOr("href", ""))
	assert.Equal(t, "three", links.Eq(2).Text())

	assert.Equal(t, "/#contact?activity=youth", doc.Find(".contact-cta-button").AttrOr("href", ""))
}

func TestApplyDoctrineRelative(t *testing.T) {
	r := NewResolver(origin.NewFS(fstest.MapFS{File: {Data: []byte(metadata)}}), WithLinkMode(LinkRelative))
	doc := newDoc(t)
	require.True(t, r.Apply(context.Background(), doc, "/doctrine/faith.html"))

	assert.Equal(t, "x", doc.Find(".doctrine-page").AttrOr("style", ""))
	assert.Equal(t, "../#doctrine", doc.Find(".back-button").AttrOr("href", ""))
	assert.Equal(t, "../doctrine/grace.html", doc.Find(".related-link").Eq(0).AttrOr("href", ""))
	assert.Equal(t, "../#contact", doc.Find(".contact-cta-button").AttrOr("href", ""))
}

func TestApplyNoRecord(t *testing.T) {
	r := NewResolver(origin.NewFS(fstest.MapFS{File: {Data: []byte(metadata)}}))
	for _, p := range []string{"/index.html", "/activities/unknown.html"} {
		doc := newDoc(t)
		assert.False(t, r.Apply(context.Background(), doc, p), p)
		assert.Equal(t, "#", doc.Find(".back-button").AttrOr("href", ""), p)
	}
}

type countingOrigin struct {
	calls atomic.Int64
	err   error
	data  []byte
}

func (c *countingOrigin) Fetch(context.Context, string) ([]byte, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.data, nil
}

func TestLoadCachesMissingFile(t *testing.T) {
	o := &countingOrigin{err: origin.ErrNotFound}
	r := NewResolver(o)
	for i := 0; i < 3; i++ {
		meta, err := r.Load(context.Background())
		require.NoError(t, err)
		assert.Empty(t, meta)
	}
	assert.Equal(t, int64(1), o.calls.Load())
}

func TestLoadRetriesTransportFailure(t *testing.T) {
	o := &countingOrigin{err: errors.New("timeout")}
	r := NewResolver(o)
	_, err := r.Load(context.Background())
	require.Error(t, err)

	o.err = nil
	o.data = []byte(metadata)
	meta, err := r.Load(context.Background())
	require.NoError(t, err)
	_, ok := meta.Lookup(SourceDoctrine, "faith")
	assert.True(t, ok)
	assert.Equal(t, int64(2), o.calls.Load())

	_, _ = r.Load(context.Background())
	assert.Equal(t, int64(2), o.calls.Load())

	r.Reset()
	_, _ = r.Load(context.Background())
	assert.Equal(t, int64(3), o.calls.Load())
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	r := NewResolver(&countingOrigin{data: []byte("{")})
	doc := newDoc(t)
	assert.False(t, r.Apply(context.Background(), doc, "/doctrine/faith.html"))
}

func TestParseLinkMode(t *testing.T) {
	m, err := ParseLinkMode("")
	require.NoError(t, err)
	assert.Equal(t, LinkAbsolute, m)
	m, err = ParseLinkMode("Relative")
	require.NoError(t, err)
	assert.Equal(t, LinkRelative, m)
	_, err = ParseLinkMode("sideways")
	assert.Error(t, err)
}
