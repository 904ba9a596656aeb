package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
)

func TestClean(t *testing.T) {
	cases := map[string]string{
		"/":                      ".",
		"":                       ".",
		"/index.html":            "index.html",
		"doctrine/faith.html":    "doctrine/faith.html",
		"/translations//es.json": "translations/es.json",
		"../secret":              "",
		"/doctrine/../../etc":    "",
		"a\\b":                   "",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFSOriginFetch(t *testing.T) {
	o := NewFS(fstest.MapFS{
		"header.html":          {Data: []byte("<nav></nav>")},
		"doctrine/faith.html":  {Data: []byte("<p>faith</p>")},
		"translations/es.json": {Data: []byte(`{"a":"b"}`)},
	})
	ctx := context.Background()

	got, err := o.Fetch(ctx, "/header.html")
	if err != nil {
		t.Fatalf("fetch header: %v", err)
	}
	if string(got) != "<nav></nav>" {
		t.Fatalf("unexpected header body %q", got)
	}

	if _, err := o.Fetch(ctx, "footer.html"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing file, got %v", err)
	}
	if _, err := o.Fetch(ctx, "../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for traversal, got %v", err)
	}
	if _, err := o.Fetch(ctx, "doctrine"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
	if !o.IsDir("doctrine") || o.IsDir("header.html") {
		t.Fatalf("IsDir misreported")
	}
}

func TestFSOriginHonoursCancelledContext(t *testing.T) {
	o := NewFS(fstest.MapFS{"a.html": {Data: []byte("x")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Fetch(ctx, "a.html"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPOriginFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/site/translations/en.json":
			_, _ = w.Write([]byte(`{"nav":{"home":"Home"}}`))
		case "/site/broken.html":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	o := NewHTTP(srv.URL + "/site/").WithClient(srv.Client())
	ctx := context.Background()

	got, err := o.Fetch(ctx, "/translations/en.json")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got) != `{"nav":{"home":"Home"}}` {
		t.Fatalf("unexpected body %q", got)
	}
	if _, err := o.Fetch(ctx, "missing.html"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = o.Fetch(ctx, "broken.html")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected non-404 error, got %v", err)
	}
}

func TestRootPrefix(t *testing.T) {
	cases := map[string]string{
		"":                      "",
		"/":                     "",
		"/index.html":           "",
		"/doctrine/":            "",
		"/doctrine/faith.html":  "../",
		"activities/youth.html": "../",
	}
	for in, want := range cases {
		if got := RootPrefix(in); got != want {
			t.Errorf("RootPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
