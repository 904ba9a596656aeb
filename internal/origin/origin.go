package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a resource does not exist at the origin.
var ErrNotFound = errors.New("origin: not found")

const defaultHTTPTimeout = 5 * time.Second

// Origin serves the raw files of the static site: pages, fragments,
// translation dictionaries and the page metadata sidecar.
type Origin interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// Func adapts ordinary functions to Origin.
type Func func(ctx context.Context, name string) ([]byte, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, name string) ([]byte, error) { return f(ctx, name) }

// Clean normalises a request path into an fs-style name relative to the site root.
// It returns "" when the path escapes the root.
func Clean(name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, "\\") {
		return ""
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return ""
		}
	}
	cleaned := path.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "."
	}
	return cleaned
}

// FSOrigin reads files from an fs.FS.
type FSOrigin struct {
	fsys fs.FS
}

// NewFS wraps fsys.
func NewFS(fsys fs.FS) *FSOrigin {
	return &FSOrigin{fsys: fsys}
}

// NewDir serves files from a directory on disk.
func NewDir(dir string) *FSOrigin {
	return NewFS(os.DirFS(dir))
}

// Fetch reads name from the underlying filesystem.
func (o *FSOrigin) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := Clean(name)
	if clean == "" || clean == "." {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := fs.ReadFile(o.fsys, clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) && isDirErr(o.fsys, clean) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return nil, fmt.Errorf("origin: read %s: %w", clean, err)
	}
	return data, nil
}

// IsDir reports whether name is a directory in the filesystem.
func (o *FSOrigin) IsDir(name string) bool {
	clean := Clean(name)
	if clean == "" {
		return false
	}
	info, err := fs.Stat(o.fsys, clean)
	return err == nil && info.IsDir()
}

func isDirErr(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.IsDir()
}

// HTTPOrigin fetches files from a remote static host.
type HTTPOrigin struct {
	baseURL string
	http    *http.Client
}

// NewHTTP constructs an HTTPOrigin rooted at baseURL.
func NewHTTP(baseURL string) *HTTPOrigin {
	return &HTTPOrigin{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// WithClient swaps the HTTP client, mainly for tests.
func (o *HTTPOrigin) WithClient(c *http.Client) *HTTPOrigin {
	if c != nil {
		o.http = c
	}
	return o
}

// Fetch issues GET {baseURL}/{name}.
func (o *HTTPOrigin) Fetch(ctx context.Context, name string) ([]byte, error) {
	clean := Clean(name)
	if clean == "" || clean == "." {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	endpoint, err := url.JoinPath(o.baseURL, clean)
	if err != nil {
		return nil, fmt.Errorf("origin: join %s: %w", clean, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin: get %s: %w", clean, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("origin: %s status %d", clean, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// RootPrefix returns the relative prefix leading from a page back to the
// site root: "" for top-level pages and "../" once the path has more than
// one segment.
func RootPrefix(pagePath string) string {
	n := 0
	for _, seg := range strings.Split(pagePath, "/") {
		if seg != "" {
			n++
		}
	}
	if n > 1 {
		return "../"
	}
	return ""
}
